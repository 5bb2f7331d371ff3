package store

import (
	"testing"

	"github.com/cepweb/gocep/pkg/cep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreTests exercises the Storer contract against any implementation.
func runStoreTests(t *testing.T, open func(t *testing.T) Storer) {
	t.Run("UpsertGetRoundtrip", func(t *testing.T) {
		s := open(t)

		u := &cep.TUnit{
			ID:        "u1",
			Content:   "thoughts emerge from simpler units",
			Valence:   cep.Valence{Curiosity: 0.7, Certainty: 0.5, Dissonance: 0.2},
			Embedding: []float64{0.1, -0.2, 0.3},
			AgentID:   "ava",
			ParentIDs: []string{"p1", "p2"},
			ChildIDs:  []string{"c1"},
			Linkage:   cep.LinkageGenerative,
			Phase:     cep.PhaseBecoming,
			CreatedAt: 42,
		}
		require.NoError(t, s.UpsertTUnit(u))

		got, err := s.GetTUnit("u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, u.Content, got.Content)
		assert.Equal(t, u.Valence, got.Valence)
		assert.Equal(t, u.Embedding, got.Embedding)
		assert.Equal(t, u.ParentIDs, got.ParentIDs)
		assert.Equal(t, u.ChildIDs, got.ChildIDs)
		assert.Equal(t, u.Linkage, got.Linkage)
		assert.Equal(t, u.Phase, got.Phase)
		assert.Equal(t, int64(42), got.CreatedAt)
	})

	t.Run("GetMissingReturnsNil", func(t *testing.T) {
		s := open(t)

		got, err := s.GetTUnit("nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("UpsertReplaces", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "u1", Content: "first", CreatedAt: 1}))
		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "u1", Content: "second", CreatedAt: 1}))

		got, err := s.GetTUnit("u1")
		require.NoError(t, err)
		assert.Equal(t, "second", got.Content)

		n, err := s.CountTUnits()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("ListOrderedByCreation", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "b", CreatedAt: 2}))
		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "a", CreatedAt: 1}))
		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "c", CreatedAt: 2}))

		units, err := s.ListTUnits("")
		require.NoError(t, err)
		require.Len(t, units, 3)
		assert.Equal(t, "a", units[0].ID)
		assert.Equal(t, "b", units[1].ID)
		assert.Equal(t, "c", units[2].ID)
	})

	t.Run("ListByAgent", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "mine", AgentID: "ava", CreatedAt: 1}))
		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "theirs", AgentID: "ben", CreatedAt: 2}))
		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "unowned", CreatedAt: 3}))

		units, err := s.ListTUnits("ava")
		require.NoError(t, err)
		require.Len(t, units, 1)
		assert.Equal(t, "mine", units[0].ID)

		// Units without an agent belong to the default agent.
		units, err = s.ListTUnits(cep.DefaultAgent)
		require.NoError(t, err)
		require.Len(t, units, 1)
		assert.Equal(t, "unowned", units[0].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "u1", CreatedAt: 1}))
		require.NoError(t, s.DeleteTUnit("u1"))

		got, err := s.GetTUnit("u1")
		require.NoError(t, err)
		assert.Nil(t, got)

		// Deleting again is not an error.
		require.NoError(t, s.DeleteTUnit("u1"))
	})

	t.Run("LinkChild", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "parent", CreatedAt: 1}))
		require.NoError(t, s.LinkChild("parent", "child"))
		require.NoError(t, s.LinkChild("parent", "child")) // idempotent
		require.NoError(t, s.LinkChild("ghost", "child"))  // unknown parent ignored

		got, err := s.GetTUnit("parent")
		require.NoError(t, err)
		assert.Equal(t, []string{"child"}, got.ChildIDs)
	})

	t.Run("SetEmbedding", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "u1", CreatedAt: 1}))
		require.NoError(t, s.SetEmbedding("u1", []float64{1, 2, 3}))

		got, err := s.GetTUnit("u1")
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 3}, got.Embedding)
	})

	t.Run("EventsNewestFirst", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.AppendEvent(&cep.Event{ID: "e1", Type: cep.EventCreated, TUnitID: "u1", CreatedAt: 1}))
		require.NoError(t, s.AppendEvent(&cep.Event{
			ID: "e2", Type: cep.EventSynthesis, TUnitID: "u2",
			Metadata:  map[string]any{"parent_ids": []any{"a", "b"}},
			CreatedAt: 2,
		}))

		events, err := s.ListEvents()
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "e2", events[0].ID)
		assert.Equal(t, "e1", events[1].ID)
		assert.Equal(t, []any{"a", "b"}, events[0].Metadata["parent_ids"])
	})

	t.Run("Reset", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "u1", CreatedAt: 1}))
		require.NoError(t, s.AppendEvent(&cep.Event{ID: "e1", Type: cep.EventCreated, TUnitID: "u1", CreatedAt: 1}))
		require.NoError(t, s.Reset())

		n, err := s.CountTUnits()
		require.NoError(t, err)
		assert.Zero(t, n)

		events, err := s.ListEvents()
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestMemStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Storer {
		s := NewMemStore()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Storer {
		s, err := NewSQLiteStore()
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemStoreCopiesOnRead(t *testing.T) {
	s := NewMemStore()
	defer s.Close()

	require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "u1", ChildIDs: []string{"c"}, CreatedAt: 1}))

	got, err := s.GetTUnit("u1")
	require.NoError(t, err)
	got.ChildIDs[0] = "mutated"

	again, err := s.GetTUnit("u1")
	require.NoError(t, err)
	assert.Equal(t, "c", again.ChildIDs[0], "caller mutation leaked into store")
}
