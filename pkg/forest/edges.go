package forest

// Edge is one render-ready derivation edge. The label is the parent's
// linkage tag, passed through opaquely.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// DeriveEdges emits one edge per reconstructed parent->child adjacency.
// It iterates the forest's reconstructed children only — never the raw
// ChildIDs fields, which may be empty even when a relation exists — so
// every emitted edge has both endpoints in the node map and each
// (parent, child) pair appears exactly once. Output order is stable
// across calls.
func DeriveEdges(f *Forest) []Edge {
	var edges []Edge
	for _, parentID := range f.Order() {
		parent := f.Nodes[parentID]
		for _, childID := range parent.Children {
			edges = append(edges, Edge{
				ID:     parentID + "-" + childID,
				Source: parentID,
				Target: childID,
				Label:  parent.Unit.Linkage,
			})
		}
	}
	return edges
}
