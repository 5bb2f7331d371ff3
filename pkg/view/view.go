// Package view composes the render pipeline: forest reconstruction,
// edge derivation and layout, in that order. The layout step depends on
// the builder's levels and the edge step on its adjacency, so the
// sequence is fixed; edges and layout themselves share nothing.
package view

import (
	"github.com/cepweb/gocep/pkg/cep"
	"github.com/cepweb/gocep/pkg/forest"
	"github.com/cepweb/gocep/pkg/layout"
)

// Request carries one rebuild's inputs: the agent filter and the
// previous render's node set, which is the only channel through which
// manual position overrides survive a rebuild. A nil Previous resets
// every override.
type Request struct {
	Filter   forest.AgentFilter
	Previous []layout.RenderedNode
}

// View is a render-ready graph.
type View struct {
	Nodes []layout.RenderedNode `json:"nodes"`
	Edges []forest.Edge         `json:"edges"`

	// Data-quality signals from reconstruction, for the caller to log.
	BackEdges          int `json:"backEdges,omitempty"`
	RootlessComponents int `json:"rootlessComponents,omitempty"`
}

// Render runs the full pipeline over an immutable snapshot of units.
func Render(units []cep.TUnit, req Request) View {
	f := forest.Build(units, req.Filter)
	return View{
		Nodes:              layout.Compute(f, req.Previous),
		Edges:              forest.DeriveEdges(f),
		BackEdges:          f.BackEdges,
		RootlessComponents: f.RootlessComponents,
	}
}
