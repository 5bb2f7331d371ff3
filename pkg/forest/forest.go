// Package forest reconstructs a rooted forest from a flat, possibly
// inconsistent collection of T-units. The raw ParentIDs/ChildIDs fields
// on a T-unit are declarations, not truth: a relation may be declared on
// either side only, point at units that do not exist yet, or form cycles.
// Build resolves all of that into a single consistent adjacency that the
// layout and edge-derivation steps consume as their only source.
package forest

import (
	"sort"

	"github.com/cepweb/gocep/pkg/cep"
)

// AgentFilter restricts a build to units owned by the listed agents.
// A nil filter admits every unit.
type AgentFilter map[string]bool

// Admits reports whether a unit passes the filter.
func (f AgentFilter) Admits(u *cep.TUnit) bool {
	return f == nil || f[u.Agent()]
}

// GraphNode is one reconstructed node. Children and Parents hold the
// reconstructed adjacency in deterministic (CreatedAt, ID) order and are
// authoritative for the duration of the build; the raw fields on Unit
// must not be consulted again.
type GraphNode struct {
	ID       string
	Level    int
	Children []string
	Parents  []string
	Unit     cep.TUnit
}

// Forest is the result of one build. Nodes is an arena keyed by id;
// nodes reference each other by id only, never by pointer, so cyclic
// input cannot produce unbounded traversals.
type Forest struct {
	Nodes  map[string]*GraphNode
	Roots  []string         // units with no reconstructed parent, in (CreatedAt, ID) order
	Levels map[int][]string // level -> node ids, each slice in (CreatedAt, ID) order

	// BackEdges counts adjacency edges that reached an already-leveled
	// node at an equal or shallower level during traversal. Diamond
	// merges in well-formed data land here too, but every broken cycle
	// edge is included, so a nonzero value is worth logging upstream.
	BackEdges int

	// RootlessComponents counts connected components that contained no
	// root at all (every member declared a parent — only possible with
	// cyclic data). Each was absorbed by seeding traversal from its
	// oldest member at level 0.
	RootlessComponents int

	order []string
}

// Order returns every node id in (CreatedAt, ID) order.
func (f *Forest) Order() []string {
	return f.order
}

// MaxLevel returns the deepest assigned level, or -1 for an empty forest.
func (f *Forest) MaxLevel() int {
	max := -1
	for level := range f.Levels {
		if level > max {
			max = level
		}
	}
	return max
}

// Build reconstructs the forest for the filtered units.
//
// Adjacency is the union of both declared sides: parent->child exists when
// the child lists the parent in ParentIDs or the parent lists the child in
// ChildIDs. References to ids outside the filtered set, and self
// references, are ignored silently. Levels are assigned by breadth-first
// traversal from all roots at once; the first (shallowest) visit wins and
// revisited nodes are never re-enqueued, so traversal terminates on any
// input.
func Build(units []cep.TUnit, filter AgentFilter) *Forest {
	f := &Forest{
		Nodes:  make(map[string]*GraphNode),
		Levels: make(map[int][]string),
	}

	for i := range units {
		u := &units[i]
		if u.ID == "" || !filter.Admits(u) {
			continue
		}
		if _, dup := f.Nodes[u.ID]; dup {
			continue
		}
		f.Nodes[u.ID] = &GraphNode{ID: u.ID, Level: -1, Unit: *u}
		f.order = append(f.order, u.ID)
	}
	f.sortIDs(f.order)

	childSets := make(map[string]map[string]bool, len(f.Nodes))
	link := func(parentID, childID string) {
		if parentID == childID {
			return
		}
		if _, ok := f.Nodes[parentID]; !ok {
			return
		}
		if _, ok := f.Nodes[childID]; !ok {
			return
		}
		set := childSets[parentID]
		if set == nil {
			set = make(map[string]bool)
			childSets[parentID] = set
		}
		set[childID] = true
	}

	for _, id := range f.order {
		u := &f.Nodes[id].Unit
		for _, pid := range u.ParentIDs {
			link(pid, id)
		}
		for _, cid := range u.ChildIDs {
			link(id, cid)
		}
	}

	for parentID, set := range childSets {
		parent := f.Nodes[parentID]
		for childID := range set {
			parent.Children = append(parent.Children, childID)
			child := f.Nodes[childID]
			child.Parents = append(child.Parents, parentID)
		}
	}
	for _, node := range f.Nodes {
		f.sortIDs(node.Children)
		f.sortIDs(node.Parents)
	}

	for _, id := range f.order {
		if len(f.Nodes[id].Parents) == 0 {
			f.Roots = append(f.Roots, id)
		}
	}

	f.assignLevels(f.Roots)

	// Components without a root (cyclic data) are still rendered: seed
	// each from its oldest member so every filtered unit gets a level.
	for _, id := range f.order {
		if f.Nodes[id].Level < 0 {
			f.RootlessComponents++
			f.assignLevels([]string{id})
		}
	}

	for _, ids := range f.Levels {
		f.sortIDs(ids)
	}

	return f
}

// assignLevels runs a multi-source BFS from the given seeds, assigning
// each unvisited node the level of its first visit.
func (f *Forest) assignLevels(seeds []string) {
	queue := make([]string, 0, len(seeds))
	for _, id := range seeds {
		node := f.Nodes[id]
		if node.Level >= 0 {
			continue
		}
		node.Level = 0
		f.Levels[0] = append(f.Levels[0], id)
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		node := f.Nodes[id]

		for _, childID := range node.Children {
			child := f.Nodes[childID]
			if child.Level >= 0 {
				if child.Level <= node.Level {
					f.BackEdges++
				}
				continue
			}
			child.Level = node.Level + 1
			f.Levels[child.Level] = append(f.Levels[child.Level], childID)
			queue = append(queue, childID)
		}
	}
}

// sortIDs orders ids by (CreatedAt, ID) so every derived sequence in the
// forest is stable across rebuilds.
func (f *Forest) sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := f.Nodes[ids[i]], f.Nodes[ids[j]]
		if a.Unit.CreatedAt != b.Unit.CreatedAt {
			return a.Unit.CreatedAt < b.Unit.CreatedAt
		}
		return a.ID < b.ID
	})
}
