// Package store provides persistence for GoCEP T-units and events.
// This file contains the interface and the in-memory implementation
// used in tests; sqlite_store.go holds the production store.
package store

import (
	"sort"
	"sync"

	"github.com/cepweb/gocep/pkg/cep"
)

// Storer defines the interface for data persistence. This allows
// swapping between MemStore (testing) and SQLiteStore (production).
//
// ChildIDs bookkeeping via LinkChild is deliberately best-effort: the
// forest builder reconstructs adjacency from both relational sides and
// must never trust ChildIDs alone.
type Storer interface {
	// T-units
	UpsertTUnit(u *cep.TUnit) error
	GetTUnit(id string) (*cep.TUnit, error) // (nil, nil) when absent
	DeleteTUnit(id string) error
	ListTUnits(agentID string) ([]*cep.TUnit, error) // "" = all agents
	CountTUnits() (int, error)
	LinkChild(parentID, childID string) error
	SetEmbedding(id string, embedding []float64) error

	// Events
	AppendEvent(e *cep.Event) error
	ListEvents() ([]*cep.Event, error) // newest first

	// Lifecycle
	Reset() error
	Close() error
}

// MemStore is an in-memory implementation of Storer for testing.
type MemStore struct {
	mu     sync.RWMutex
	units  map[string]*cep.TUnit
	events []*cep.Event
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{units: make(map[string]*cep.TUnit)}
}

func (s *MemStore) Close() error { return nil }

// Reset removes all units and events.
func (s *MemStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = make(map[string]*cep.TUnit)
	s.events = nil
	return nil
}

func (s *MemStore) UpsertTUnit(u *cep.TUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[u.ID] = copyUnit(u)
	return nil
}

func (s *MemStore) GetTUnit(id string) (*cep.TUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.units[id]; ok {
		return copyUnit(u), nil
	}
	return nil, nil
}

func (s *MemStore) DeleteTUnit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, id)
	return nil
}

func (s *MemStore) ListTUnits(agentID string) ([]*cep.TUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*cep.TUnit
	for _, u := range s.units {
		if agentID != "" && u.Agent() != agentID {
			continue
		}
		out = append(out, copyUnit(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) CountTUnits() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units), nil
}

// LinkChild appends childID to the parent's raw ChildIDs. Unknown
// parents are ignored; duplicates are not added twice.
func (s *MemStore) LinkChild(parentID, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.units[parentID]
	if !ok {
		return nil
	}
	for _, existing := range parent.ChildIDs {
		if existing == childID {
			return nil
		}
	}
	parent.ChildIDs = append(parent.ChildIDs, childID)
	return nil
}

func (s *MemStore) SetEmbedding(id string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.units[id]; ok {
		u.Embedding = append([]float64(nil), embedding...)
	}
	return nil
}

func (s *MemStore) AppendEvent(e *cep.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, copyEvent(e))
	return nil
}

func (s *MemStore) ListEvents() ([]*cep.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*cep.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, copyEvent(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// copyUnit deep-copies a unit so callers cannot mutate stored state.
func copyUnit(u *cep.TUnit) *cep.TUnit {
	c := *u
	c.Embedding = append([]float64(nil), u.Embedding...)
	c.ParentIDs = append([]string(nil), u.ParentIDs...)
	c.ChildIDs = append([]string(nil), u.ChildIDs...)
	return &c
}

func copyEvent(e *cep.Event) *cep.Event {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
