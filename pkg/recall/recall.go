// Package recall ranks memory candidates for a focal T-unit by a
// weighted combination of semantic similarity (embedding cosine) and
// affective closeness (valence distance). The ranker is a pure function
// over an immutable pool snapshot; it performs no IO and completes in
// time proportional to the pool size.
package recall

import (
	"math"
	"sort"

	"github.com/cepweb/gocep/pkg/cep"
)

// Options controls one ranking request.
type Options struct {
	// Limit caps the suggestion list. Zero or negative yields an empty
	// result.
	Limit int

	// IncludeCrossAgent admits candidates owned by other agents. When
	// false, only units sharing the focal unit's agent are scored.
	IncludeCrossAgent bool

	// ValenceWeight is the affective share of the final score, in
	// [0,1]. Out-of-range values are a caller contract violation; the
	// ranker clamps them defensively rather than failing.
	ValenceWeight float64

	// Exclude removes ids the caller already has selected.
	Exclude map[string]bool
}

// Suggestion is one ranked recall candidate.
type Suggestion struct {
	ID           string  `json:"id"`
	Similarity   float64 `json:"similarity"`   // semantic, [0,1]
	ValenceScore float64 `json:"valenceScore"` // [0,1], higher = closer
	FinalScore   float64 `json:"finalScore"`   // [0,1]
	Content      string  `json:"content"`
	AgentID      string  `json:"agentId,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
}

// Suggest ranks the pool against the focal unit and returns at most
// opts.Limit suggestions, best first. The focal unit and excluded ids
// never appear in the output. An unknown focal id or an empty filtered
// pool yields an empty result, not an error.
func Suggest(focalID string, pool []cep.TUnit, opts Options) []Suggestion {
	if opts.Limit <= 0 {
		return nil
	}

	var focal *cep.TUnit
	for i := range pool {
		if pool[i].ID == focalID {
			focal = &pool[i]
			break
		}
	}
	if focal == nil {
		return nil
	}

	w := opts.ValenceWeight
	if w < 0 {
		w = 0
	} else if w > 1 {
		w = 1
	}

	var suggestions []Suggestion
	for i := range pool {
		candidate := &pool[i]
		if candidate.ID == focalID || opts.Exclude[candidate.ID] {
			continue
		}
		if !opts.IncludeCrossAgent && candidate.Agent() != focal.Agent() {
			continue
		}

		similarity := SemanticSimilarity(focal.Embedding, candidate.Embedding)
		valenceScore := 1 - focal.Valence.Distance(candidate.Valence)/cep.MaxValenceDistance

		suggestions = append(suggestions, Suggestion{
			ID:           candidate.ID,
			Similarity:   similarity,
			ValenceScore: valenceScore,
			FinalScore:   (1-w)*similarity + w*valenceScore,
			Content:      candidate.Content,
			AgentID:      candidate.AgentID,
			CreatedAt:    candidate.CreatedAt,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt // newer first
		}
		return a.ID < b.ID
	})

	if len(suggestions) > opts.Limit {
		suggestions = suggestions[:opts.Limit]
	}
	return suggestions
}

// SemanticSimilarity maps the cosine of two embeddings from [-1,1] to
// [0,1]. A missing or zero-magnitude embedding on either side, or a
// dimension mismatch, scores 0: the candidate is penalized, not
// excluded.
func SemanticSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	if magnitude(a) == 0 || magnitude(b) == 0 {
		return 0
	}
	return (CosineSimilarity(a, b) + 1) / 2
}

func magnitude(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
