package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cepweb/gocep/internal/embed"
	"github.com/cepweb/gocep/internal/store"
	"github.com/cepweb/gocep/pkg/cep"
	"github.com/cepweb/gocep/pkg/recall"
	"github.com/cepweb/gocep/pkg/view"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, store.Storer) {
	t.Helper()
	s := store.NewMemStore()
	t.Cleanup(func() { s.Close() })
	return New(s, zap.NewNop(), opts...), s
}

func mustCreate(t *testing.T, e *Engine, content string, v cep.Valence) *cep.TUnit {
	t.Helper()
	u, err := e.CreateTUnit(context.Background(), CreateInput{Content: content, Valence: v})
	require.NoError(t, err)
	return u
}

func TestCreateTUnit(t *testing.T) {
	e, _ := newTestEngine(t)

	u, err := e.CreateTUnit(context.Background(), CreateInput{
		Content: "first thought",
		Valence: cep.Valence{Curiosity: 0.8, Certainty: 0.3, Dissonance: 0.6},
		AgentID: "ava",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, cep.LinkageFoundational, u.Linkage)
	assert.NotZero(t, u.CreatedAt)

	got, err := e.GetTUnit(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "first thought", got.Content)

	events, err := e.Events()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, cep.EventCreated, events[0].Type)
	assert.Equal(t, u.ID, events[0].TUnitID)
}

func TestCreateTUnitRejectsBadValence(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CreateTUnit(context.Background(), CreateInput{
		Content: "x",
		Valence: cep.Valence{Curiosity: 1.4},
	})
	assert.ErrorIs(t, err, ErrValenceOutOfBounds)

	_, err = e.CreateTUnit(context.Background(), CreateInput{
		Content: "x",
		Valence: cep.Valence{Dissonance: -0.1},
	})
	assert.ErrorIs(t, err, ErrValenceOutOfBounds)
}

func TestCreateTUnitLinksParents(t *testing.T) {
	e, _ := newTestEngine(t)

	parent := mustCreate(t, e, "parent", cep.Valence{})
	child, err := e.CreateTUnit(context.Background(), CreateInput{
		Content:   "child",
		ParentIDs: []string{parent.ID},
		Linkage:   cep.LinkageGenerative,
	})
	require.NoError(t, err)

	got, err := e.GetTUnit(parent.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ChildIDs, child.ID)
}

func TestGetTUnitNotFound(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.GetTUnit("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSynthesize(t *testing.T) {
	e, _ := newTestEngine(t)

	a := mustCreate(t, e, "alpha", cep.Valence{Curiosity: 0.9, Certainty: 0.3, Dissonance: 0.0})
	b := mustCreate(t, e, "beta", cep.Valence{Curiosity: 0.6, Certainty: 0.6, Dissonance: 0.3})
	c := mustCreate(t, e, "gamma", cep.Valence{Curiosity: 0.3, Certainty: 0.9, Dissonance: 0.6})

	u, err := e.Synthesize(context.Background(), []string{a.ID, b.ID, c.ID}, "")
	require.NoError(t, err)

	assert.Equal(t, "SYNTHESIS: alpha | beta | gamma", u.Content)
	assert.Equal(t, cep.LinkageGenerative, u.Linkage)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, u.ParentIDs)
	assert.InDelta(t, 0.6, u.Valence.Curiosity, 1e-9)
	assert.InDelta(t, 0.6, u.Valence.Certainty, 1e-9)
	assert.InDelta(t, 0.3, u.Valence.Dissonance, 1e-9)

	// Every parent now declares the synthesis as a child.
	for _, id := range []string{a.ID, b.ID, c.ID} {
		parent, err := e.GetTUnit(id)
		require.NoError(t, err)
		assert.Contains(t, parent.ChildIDs, u.ID)
	}

	events, err := e.Events()
	require.NoError(t, err)
	assert.Equal(t, cep.EventSynthesis, events[0].Type)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, events[0].Metadata["parent_ids"])
}

func TestSynthesizeTooFewParents(t *testing.T) {
	e, _ := newTestEngine(t)

	a := mustCreate(t, e, "alpha", cep.Valence{})
	b := mustCreate(t, e, "beta", cep.Valence{})

	_, err := e.Synthesize(context.Background(), []string{a.ID, b.ID}, "")
	assert.ErrorIs(t, err, ErrTooFewParents)

	// Missing ids do not count toward the minimum.
	_, err = e.Synthesize(context.Background(), []string{a.ID, b.ID, "ghost"}, "")
	assert.ErrorIs(t, err, ErrTooFewParents)
}

func TestTransform(t *testing.T) {
	e, _ := newTestEngine(t)

	orig := mustCreate(t, e, "the anomaly resists", cep.Valence{Curiosity: 0.5, Certainty: 0.5, Dissonance: 0.5})

	units, err := e.Transform(context.Background(), orig.ID, "unexpected grief")
	require.NoError(t, err)
	require.Len(t, units, 5)

	for i, phase := range cep.TransformationPhases {
		u := units[i]
		assert.Equal(t, phase, u.Phase)
		assert.Equal(t, cep.LinkageTransformational, u.Linkage)
		assert.Equal(t, []string{orig.ID}, u.ParentIDs)
		assert.Equal(t, strings.ToUpper(phase)+": the anomaly resists [ANOMALY: unexpected grief]", u.Content)
	}

	// Phase valence deltas off the 0.5 baseline.
	assert.InDelta(t, 0.7, units[0].Valence.Dissonance, 1e-9) // Shattering
	assert.InDelta(t, 0.6, units[1].Valence.Curiosity, 1e-9)  // Remembering
	assert.InDelta(t, 0.4, units[2].Valence.Dissonance, 1e-9) // Re-feeling
	assert.InDelta(t, 0.6, units[3].Valence.Certainty, 1e-9)  // Re-centering
	assert.InDelta(t, 0.7, units[4].Valence.Certainty, 1e-9)  // Becoming

	parent, err := e.GetTUnit(orig.ID)
	require.NoError(t, err)
	assert.Len(t, parent.ChildIDs, 5)

	events, err := e.Events()
	require.NoError(t, err)
	var transformations int
	for _, ev := range events {
		if ev.Type == cep.EventTransformation {
			transformations++
			assert.Equal(t, orig.ID, ev.Metadata["parent_id"])
			assert.Equal(t, "unexpected grief", ev.Metadata["anomaly"])
		}
	}
	assert.Equal(t, 5, transformations)
}

func TestTransformMissingUnit(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Transform(context.Background(), "ghost", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGraph(t *testing.T) {
	e, _ := newTestEngine(t)

	root := mustCreate(t, e, "root", cep.Valence{})
	_, err := e.CreateTUnit(context.Background(), CreateInput{
		Content:   "leaf",
		ParentIDs: []string{root.ID},
	})
	require.NoError(t, err)

	v, err := e.Graph(view.Request{})
	require.NoError(t, err)
	require.Len(t, v.Nodes, 2)
	require.Len(t, v.Edges, 1)
	assert.Equal(t, root.ID, v.Edges[0].Source)
}

func TestRecallWithProvider(t *testing.T) {
	e, _ := newTestEngine(t, WithProvider(embed.NewTermProvider(128)))

	focal := mustCreate(t, e, "the forest remembers every thought", cep.Valence{Curiosity: 0.5, Certainty: 0.5, Dissonance: 0.5})
	mustCreate(t, e, "the forest remembers every feeling", cep.Valence{Curiosity: 0.5, Certainty: 0.5, Dissonance: 0.5})
	mustCreate(t, e, "entirely unrelated grocery list", cep.Valence{Curiosity: 0.5, Certainty: 0.5, Dissonance: 0.5})

	got, err := e.Recall(focal.ID, recall.Options{Limit: 5, IncludeCrossAgent: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "the forest remembers every feeling", got[0].Content)
	assert.Greater(t, got[0].FinalScore, got[1].FinalScore)
}

func TestRecallWithIndexPrefilter(t *testing.T) {
	fs, err := mem.NewFS()
	require.NoError(t, err)
	idx, err := embed.NewIndex(fs, "index.bin")
	require.NoError(t, err)

	e, _ := newTestEngine(t, WithProvider(embed.NewTermProvider(128)), WithIndex(idx))

	focal := mustCreate(t, e, "recursion folds consciousness back on itself", cep.Valence{})
	mustCreate(t, e, "recursion folds thought back on itself", cep.Valence{})
	mustCreate(t, e, "completely different topic about sqlite", cep.Valence{})

	got, err := e.Recall(focal.ID, recall.Options{Limit: 2, IncludeCrossAgent: true})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "recursion folds thought back on itself", got[0].Content)
}

func TestRecallIndexKeepsUnembeddedCandidates(t *testing.T) {
	fs, err := mem.NewFS()
	require.NoError(t, err)
	idx, err := embed.NewIndex(fs, "index.bin")
	require.NoError(t, err)

	s := store.NewMemStore()
	defer s.Close()

	// Embedded candidate is semantically identical but affectively far;
	// the unembedded one shares the focal valence exactly.
	far := cep.Valence{Curiosity: 1, Certainty: 0, Dissonance: 1}
	require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "focal", Content: "focal", Embedding: []float64{1, 0, 0, 0}, CreatedAt: 1}))
	require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "embedded", Content: "embedded", Embedding: []float64{1, 0, 0, 0}, Valence: far, CreatedAt: 2}))
	require.NoError(t, s.UpsertTUnit(&cep.TUnit{ID: "blank", Content: "blank", CreatedAt: 3}))
	require.NoError(t, idx.Add("focal", []float64{1, 0, 0, 0}))
	require.NoError(t, idx.Add("embedded", []float64{1, 0, 0, 0}))

	e := New(s, zap.NewNop(), WithIndex(idx))

	got, err := e.Recall("focal", recall.Options{Limit: 5, IncludeCrossAgent: true, ValenceWeight: 1})
	require.NoError(t, err)
	require.Len(t, got, 2, "unembedded candidate dropped by index prefilter")
	assert.Equal(t, "blank", got[0].ID)
	assert.InDelta(t, 1.0, got[0].FinalScore, 1e-9)
	assert.Zero(t, got[0].Similarity)
}

func TestEmbedMissing(t *testing.T) {
	s := store.NewMemStore()
	defer s.Close()

	// Seed units without embeddings through a provider-less engine.
	bare := New(s, zap.NewNop())
	u1, err := bare.CreateTUnit(context.Background(), CreateInput{Content: "unembedded one"})
	require.NoError(t, err)
	_, err = bare.CreateTUnit(context.Background(), CreateInput{Content: "unembedded two"})
	require.NoError(t, err)
	require.Empty(t, u1.Embedding)

	e := New(s, zap.NewNop(), WithProvider(embed.NewTermProvider(64)))
	n, err := e.EmbedMissing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := e.GetTUnit(u1.ID)
	require.NoError(t, err)
	assert.Len(t, got.Embedding, 64)

	// Second pass is a no-op.
	n, err = e.EmbedMissing(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInitSampleData(t *testing.T) {
	e, s := newTestEngine(t)

	mustCreate(t, e, "pre-existing", cep.Valence{})

	n, err := e.InitSampleData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	units, err := s.ListTUnits("")
	require.NoError(t, err)
	require.Len(t, units, 4)

	contents := make(map[string]string)
	for _, u := range units {
		contents[u.Content] = u.Linkage
	}
	assert.Equal(t, cep.LinkageFoundational, contents["The nature of consciousness is recursive"])
	assert.Equal(t, cep.LinkageSynthetic, contents["Understanding emerges through synthesis"])

	// Reset wiped the prior unit and events.
	events, err := e.Events()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestGenesisRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)

	a := mustCreate(t, e, "exported thought", cep.Valence{Curiosity: 0.4})
	_, err := e.Synthesize(context.Background(), []string{a.ID}, "")
	assert.ErrorIs(t, err, ErrTooFewParents)

	snap, err := e.Export()
	require.NoError(t, err)
	require.Len(t, snap.TUnits, 1)
	require.Len(t, snap.Events, 1)
	assert.NotEmpty(t, snap.ExportedAt)

	// Import into a fresh engine.
	other, otherStore := newTestEngine(t)
	require.NoError(t, other.Import(snap))

	units, err := otherStore.ListTUnits("")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "exported thought", units[0].Content)

	events, err := other.Events()
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestGenesisFileRoundTrip(t *testing.T) {
	fs, err := mem.NewFS()
	require.NoError(t, err)

	e, _ := newTestEngine(t)
	mustCreate(t, e, "persisted thought", cep.Valence{})
	require.NoError(t, e.ExportToFile(fs, "genesis.json"))

	other, otherStore := newTestEngine(t)
	require.NoError(t, other.ImportFromFile(fs, "genesis.json"))

	units, err := otherStore.ListTUnits("")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "persisted thought", units[0].Content)
}
