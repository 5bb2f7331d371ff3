package cep

import "math"

// Valence is the three-dimensional affective state of a T-unit.
// Each component is constrained to [0,1].
type Valence struct {
	Curiosity  float64 `json:"curiosity"`
	Certainty  float64 `json:"certainty"`
	Dissonance float64 `json:"dissonance"`
}

// MaxValenceDistance is the largest possible Euclidean distance between
// two valences, i.e. the diagonal of the unit cube.
var MaxValenceDistance = math.Sqrt(3)

// Clamp returns the valence with every component forced into [0,1].
func (v Valence) Clamp() Valence {
	return Valence{
		Curiosity:  clamp01(v.Curiosity),
		Certainty:  clamp01(v.Certainty),
		Dissonance: clamp01(v.Dissonance),
	}
}

// InBounds reports whether every component already lies in [0,1].
func (v Valence) InBounds() bool {
	return v == v.Clamp()
}

// Distance returns the Euclidean distance to another valence.
func (v Valence) Distance(o Valence) float64 {
	dc := v.Curiosity - o.Curiosity
	dt := v.Certainty - o.Certainty
	dd := v.Dissonance - o.Dissonance
	return math.Sqrt(dc*dc + dt*dt + dd*dd)
}

// AverageValence returns the component-wise mean. An empty input yields
// the neutral valence {0.5, 0.5, 0.5}.
func AverageValence(vs []Valence) Valence {
	if len(vs) == 0 {
		return Valence{Curiosity: 0.5, Certainty: 0.5, Dissonance: 0.5}
	}
	var sum Valence
	for _, v := range vs {
		sum.Curiosity += v.Curiosity
		sum.Certainty += v.Certainty
		sum.Dissonance += v.Dissonance
	}
	n := float64(len(vs))
	return Valence{
		Curiosity:  sum.Curiosity / n,
		Certainty:  sum.Certainty / n,
		Dissonance: sum.Dissonance / n,
	}
}

// Transformation phases, in the order the transformation loop emits them.
const (
	PhaseShattering  = "Shattering"
	PhaseRemembering = "Remembering"
	PhaseRefeeling   = "Re-feeling"
	PhaseRecentering = "Re-centering"
	PhaseBecoming    = "Becoming"
)

// TransformationPhases lists the five phases in emission order.
var TransformationPhases = []string{
	PhaseShattering,
	PhaseRemembering,
	PhaseRefeeling,
	PhaseRecentering,
	PhaseBecoming,
}

// ApplyPhase returns the valence shifted by the given transformation
// phase. Unknown phases leave the valence unchanged.
func ApplyPhase(v Valence, phase string) Valence {
	switch phase {
	case PhaseShattering:
		v.Dissonance += 0.2
	case PhaseRemembering:
		v.Curiosity += 0.1
	case PhaseRefeeling:
		v.Dissonance -= 0.1
	case PhaseRecentering:
		v.Certainty += 0.1
	case PhaseBecoming:
		v.Certainty += 0.2
	}
	return v.Clamp()
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
