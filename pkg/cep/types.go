// Package cep defines the core domain types of the Cognitive Emergence
// Protocol: T-units (discrete modeled thoughts), their affective valence
// fingerprint, and the derivation events that connect them.
package cep

// DefaultAgent is the agent id assumed for T-units that carry none.
const DefaultAgent = "default"

// Linkage classifies how a T-unit was derived.
const (
	LinkageFoundational     = "foundational"
	LinkageGenerative       = "generative"
	LinkageTransformational = "transformational"
	LinkageSynthetic        = "synthetic"
)

// TUnit is a discrete modeled thought. ParentIDs and ChildIDs are the raw
// relational declarations as persisted; they may disagree with each other
// (a relation declared on one side only is still a relation). Consumers
// that need a consistent adjacency must reconstruct it — see pkg/forest.
type TUnit struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Valence     Valence   `json:"valence"`
	Embedding   []float64 `json:"embedding,omitempty"`
	AgentID     string    `json:"agentId,omitempty"`
	ParentIDs   []string  `json:"parentIds"`
	ChildIDs    []string  `json:"childIds"`
	Linkage     string    `json:"linkage"`
	Phase       string    `json:"phase,omitempty"`
	AIGenerated bool      `json:"aiGenerated"`
	CreatedAt   int64     `json:"createdAt"` // unix milliseconds
}

// Agent returns the owning agent id, substituting DefaultAgent when unset.
func (u *TUnit) Agent() string {
	if u.AgentID == "" {
		return DefaultAgent
	}
	return u.AgentID
}

// Event records a store mutation (creation, synthesis, transformation)
// for the audit log and genesis export.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	TUnitID   string         `json:"tUnitId"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"createdAt"`
}

// Event types.
const (
	EventCreated        = "created"
	EventSynthesis      = "synthesis"
	EventTransformation = "transformation"
	EventImport         = "import"
)
