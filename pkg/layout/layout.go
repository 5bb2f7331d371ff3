// Package layout assigns 2D coordinates to a reconstructed forest.
// Positions are a pure function of the forest and the previous render's
// manual overrides: identical inputs produce bit-identical output, so a
// rebuild triggered by an unrelated store change cannot move nodes the
// user has pinned.
package layout

import (
	"math"
	"sort"

	"github.com/cepweb/gocep/pkg/cep"
	"github.com/cepweb/gocep/pkg/forest"
)

// Layout constants. W and H are the fixed horizontal and vertical
// spacing between nodes; TopMargin offsets level 0 from the canvas top.
const (
	HSpacing  = 180.0
	VSpacing  = 140.0
	TopMargin = 80.0
)

// Position is a 2D canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Equals compares positions with a small epsilon.
func (p Position) Equals(o Position) bool {
	const epsilon = 1e-9
	return math.Abs(p.X-o.X) < epsilon && math.Abs(p.Y-o.Y) < epsilon
}

// RenderedNode is one render-ready node: coordinates plus the
// pass-through display payload.
type RenderedNode struct {
	ID             string    `json:"id"`
	Level          int       `json:"level"`
	Position       Position  `json:"position"`
	ManualOverride bool      `json:"manualOverride"`
	Payload        cep.TUnit `json:"payload"`
}

// Compute lays out the forest level by level. Nodes at a level are
// spaced HSpacing apart and centered around x=0; y grows downward by
// VSpacing per level.
//
// A node that appears in previous with ManualOverride set keeps its
// previous position and flag verbatim — the computed position is
// discarded. The override flag itself only ever arrives through
// previous (the caller flags it on drag-release); Compute never sets
// it. Passing previous as nil discards all overrides at once.
func Compute(f *forest.Forest, previous []RenderedNode) []RenderedNode {
	overrides := make(map[string]RenderedNode, len(previous))
	for _, prev := range previous {
		if prev.ManualOverride {
			overrides[prev.ID] = prev
		}
	}

	levels := make([]int, 0, len(f.Levels))
	for level := range f.Levels {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	var out []RenderedNode
	for _, level := range levels {
		ids := f.Levels[level]
		n := float64(len(ids))
		y := TopMargin + float64(level)*VSpacing

		for i, id := range ids {
			node := f.Nodes[id]
			rendered := RenderedNode{
				ID:    id,
				Level: level,
				Position: Position{
					X: -(n*HSpacing)/2 + float64(i)*HSpacing + HSpacing/2,
					Y: y,
				},
				Payload: node.Unit,
			}
			if prev, ok := overrides[id]; ok {
				rendered.Position = prev.Position
				rendered.ManualOverride = prev.ManualOverride
			}
			out = append(out, rendered)
		}
	}
	return out
}
