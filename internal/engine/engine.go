// Package engine orchestrates T-unit derivation: creation, synthesis,
// the five-phase transformation loop, memory recall, and embedding
// backfill. It owns the write path; pkg/forest, pkg/layout and
// pkg/recall stay pure and are driven from here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cepweb/gocep/internal/embed"
	"github.com/cepweb/gocep/internal/store"
	"github.com/cepweb/gocep/pkg/cep"
	"github.com/cepweb/gocep/pkg/recall"
	"github.com/cepweb/gocep/pkg/view"
)

var (
	// ErrNotFound is returned when a referenced T-unit does not exist.
	ErrNotFound = errors.New("engine: t-unit not found")
	// ErrTooFewParents is returned when synthesis is attempted with
	// fewer than three existing parents.
	ErrTooFewParents = errors.New("engine: synthesis needs at least 3 t-units")
	// ErrValenceOutOfBounds is returned when a supplied valence has a
	// component outside [0,1].
	ErrValenceOutOfBounds = errors.New("engine: valence components must be in [0,1]")
)

// MinSynthesisParents is the smallest parent set synthesis accepts.
const MinSynthesisParents = 3

// Engine coordinates the store, the embedding provider and the vector
// index. Provider and index are optional; without them units simply
// carry no embeddings and recall falls back to valence-only scoring.
type Engine struct {
	store    store.Storer
	log      *zap.Logger
	provider embed.Provider
	index    *embed.Index
}

// Option configures an Engine.
type Option func(*Engine)

// WithProvider attaches an embedding provider.
func WithProvider(p embed.Provider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithIndex attaches an ANN index used to prefilter recall pools.
func WithIndex(idx *embed.Index) Option {
	return func(e *Engine) { e.index = idx }
}

// New creates an Engine over the given store.
func New(s store.Storer, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{store: s, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateInput carries the caller-supplied fields of a new T-unit.
type CreateInput struct {
	Content     string      `json:"content"`
	Valence     cep.Valence `json:"valence"`
	AgentID     string      `json:"agentId,omitempty"`
	ParentIDs   []string    `json:"parentIds,omitempty"`
	Linkage     string      `json:"linkage,omitempty"`
	AIGenerated bool        `json:"aiGenerated,omitempty"`
}

// CreateTUnit validates, persists and (when a provider is attached)
// embeds a new T-unit, logging a creation event.
func (e *Engine) CreateTUnit(ctx context.Context, in CreateInput) (*cep.TUnit, error) {
	if !in.Valence.InBounds() {
		return nil, ErrValenceOutOfBounds
	}
	linkage := in.Linkage
	if linkage == "" {
		linkage = cep.LinkageFoundational
	}

	u := &cep.TUnit{
		ID:          uuid.NewString(),
		Content:     in.Content,
		Valence:     in.Valence,
		AgentID:     in.AgentID,
		ParentIDs:   in.ParentIDs,
		Linkage:     linkage,
		AIGenerated: in.AIGenerated,
		CreatedAt:   nowMillis(),
	}
	e.embedUnit(ctx, u)

	if err := e.store.UpsertTUnit(u); err != nil {
		return nil, fmt.Errorf("engine: create t-unit: %w", err)
	}
	for _, parentID := range in.ParentIDs {
		if err := e.store.LinkChild(parentID, u.ID); err != nil {
			return nil, fmt.Errorf("engine: link parent %s: %w", parentID, err)
		}
	}
	e.appendEvent(cep.EventCreated, u.ID, nil)

	e.log.Info("t-unit created",
		zap.String("id", u.ID),
		zap.String("agent", u.Agent()),
		zap.String("linkage", u.Linkage))
	return u, nil
}

// GetTUnit returns the T-unit or ErrNotFound.
func (e *Engine) GetTUnit(id string) (*cep.TUnit, error) {
	u, err := e.store.GetTUnit(id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

// ListTUnits returns all T-units, optionally filtered to one agent.
func (e *Engine) ListTUnits(agentID string) ([]*cep.TUnit, error) {
	return e.store.ListTUnits(agentID)
}

// DeleteTUnit removes a T-unit. Relations declared by other units keep
// pointing at the deleted id; the forest builder ignores them as
// dangling.
func (e *Engine) DeleteTUnit(id string) error {
	return e.store.DeleteTUnit(id)
}

// Synthesize combines three or more existing T-units into a new
// generative unit: content is the joined parent contents, valence is
// the component-wise parent average.
func (e *Engine) Synthesize(ctx context.Context, parentIDs []string, agentID string) (*cep.TUnit, error) {
	var (
		contents []string
		valences []cep.Valence
		found    []string
	)
	for _, id := range parentIDs {
		p, err := e.store.GetTUnit(id)
		if err != nil {
			return nil, fmt.Errorf("engine: load parent %s: %w", id, err)
		}
		if p == nil {
			continue
		}
		contents = append(contents, p.Content)
		valences = append(valences, p.Valence)
		found = append(found, p.ID)
	}
	if len(found) < MinSynthesisParents {
		return nil, ErrTooFewParents
	}

	u := &cep.TUnit{
		ID:        uuid.NewString(),
		Content:   "SYNTHESIS: " + strings.Join(contents, " | "),
		Valence:   cep.AverageValence(valences),
		AgentID:   agentID,
		ParentIDs: found,
		Linkage:   cep.LinkageGenerative,
		CreatedAt: nowMillis(),
	}
	e.embedUnit(ctx, u)

	if err := e.store.UpsertTUnit(u); err != nil {
		return nil, fmt.Errorf("engine: save synthesis: %w", err)
	}
	for _, parentID := range found {
		if err := e.store.LinkChild(parentID, u.ID); err != nil {
			return nil, fmt.Errorf("engine: link parent %s: %w", parentID, err)
		}
	}
	e.appendEvent(cep.EventSynthesis, u.ID, map[string]any{"parent_ids": found})

	e.log.Info("synthesis",
		zap.String("id", u.ID),
		zap.Int("parents", len(found)))
	return u, nil
}

// Transform runs a T-unit through the five-phase transformation loop,
// producing one child per phase. Each child shifts the original valence
// by its phase delta and tags the original content with the anomaly.
func (e *Engine) Transform(ctx context.Context, id, anomaly string) ([]*cep.TUnit, error) {
	original, err := e.store.GetTUnit(id)
	if err != nil {
		return nil, fmt.Errorf("engine: load t-unit %s: %w", id, err)
	}
	if original == nil {
		return nil, ErrNotFound
	}

	out := make([]*cep.TUnit, 0, len(cep.TransformationPhases))
	for _, phase := range cep.TransformationPhases {
		u := &cep.TUnit{
			ID:        uuid.NewString(),
			Content:   transformationContent(original.Content, phase, anomaly),
			Valence:   cep.ApplyPhase(original.Valence, phase),
			AgentID:   original.AgentID,
			ParentIDs: []string{id},
			Linkage:   cep.LinkageTransformational,
			Phase:     phase,
			CreatedAt: nowMillis(),
		}
		e.embedUnit(ctx, u)

		if err := e.store.UpsertTUnit(u); err != nil {
			return nil, fmt.Errorf("engine: save phase %s: %w", phase, err)
		}
		if err := e.store.LinkChild(id, u.ID); err != nil {
			return nil, fmt.Errorf("engine: link phase %s: %w", phase, err)
		}
		e.appendEvent(cep.EventTransformation, u.ID, map[string]any{
			"phase":     phase,
			"parent_id": id,
			"anomaly":   anomaly,
		})
		out = append(out, u)
	}

	e.log.Info("transformation loop",
		zap.String("id", id),
		zap.String("anomaly", anomaly),
		zap.Int("phases", len(out)))
	return out, nil
}

func transformationContent(original, phase, anomaly string) string {
	return strings.ToUpper(phase) + ": " + original + " [ANOMALY: " + anomaly + "]"
}

// Graph reconstructs the forest over all stored T-units and renders a
// laid-out view of it.
func (e *Engine) Graph(req view.Request) (view.View, error) {
	units, err := e.store.ListTUnits("")
	if err != nil {
		return view.View{}, fmt.Errorf("engine: list t-units: %w", err)
	}
	pool := make([]cep.TUnit, len(units))
	for i, u := range units {
		pool[i] = *u
	}
	return view.Render(pool, req), nil
}

// Recall ranks stored T-units against the focal unit. When an ANN
// index is attached and the focal unit is embedded, the candidate pool
// is prefiltered to the index's nearest neighbors before exact scoring.
func (e *Engine) Recall(focalID string, opts recall.Options) ([]recall.Suggestion, error) {
	units, err := e.store.ListTUnits("")
	if err != nil {
		return nil, fmt.Errorf("engine: list t-units: %w", err)
	}
	pool := make([]cep.TUnit, len(units))
	for i, u := range units {
		pool[i] = *u
	}

	if e.index != nil && e.index.Size() > 0 && opts.Limit > 0 {
		if focal := findUnit(pool, focalID); focal != nil && len(focal.Embedding) > 0 {
			nearest, err := e.index.Search(focal.Embedding, opts.Limit*8)
			if err == nil && len(nearest) > 0 {
				pool = restrictPool(pool, focalID, nearest)
			}
		}
	}
	return recall.Suggest(focalID, pool, opts), nil
}

func findUnit(pool []cep.TUnit, id string) *cep.TUnit {
	for i := range pool {
		if pool[i].ID == id {
			return &pool[i]
		}
	}
	return nil
}

// restrictPool keeps the focal unit, the index-nominated candidates,
// and every unit without an embedding. Unembedded units can never be
// index-nominated, but they must stay rankable: they score 0 similarity
// and can still win on valence.
func restrictPool(pool []cep.TUnit, focalID string, nearest []string) []cep.TUnit {
	keep := make(map[string]bool, len(nearest)+1)
	keep[focalID] = true
	for _, id := range nearest {
		keep[id] = true
	}
	out := pool[:0]
	for _, u := range pool {
		if keep[u.ID] || len(u.Embedding) == 0 {
			out = append(out, u)
		}
	}
	return out
}

// EmbedMissing backfills embeddings for every T-unit lacking one and
// feeds the vector index. Returns the number embedded.
func (e *Engine) EmbedMissing(ctx context.Context) (int, error) {
	if e.provider == nil {
		return 0, nil
	}
	units, err := e.store.ListTUnits("")
	if err != nil {
		return 0, fmt.Errorf("engine: list t-units: %w", err)
	}

	embedded := 0
	for _, u := range units {
		if len(u.Embedding) > 0 {
			if e.index != nil && !e.index.Has(u.ID) {
				if err := e.index.Add(u.ID, u.Embedding); err != nil {
					e.log.Warn("index add failed", zap.String("id", u.ID), zap.Error(err))
				}
			}
			continue
		}
		vec, err := e.provider.Embed(ctx, u.Content)
		if err != nil {
			return embedded, fmt.Errorf("engine: embed %s: %w", u.ID, err)
		}
		if err := e.store.SetEmbedding(u.ID, vec); err != nil {
			return embedded, fmt.Errorf("engine: save embedding %s: %w", u.ID, err)
		}
		if e.index != nil {
			if err := e.index.Add(u.ID, vec); err != nil {
				e.log.Warn("index add failed", zap.String("id", u.ID), zap.Error(err))
			}
		}
		embedded++
	}
	if embedded > 0 {
		e.log.Info("embedded missing t-units",
			zap.Int("count", embedded),
			zap.String("model", e.provider.Model()))
	}
	return embedded, nil
}

// Events returns the event log, newest first.
func (e *Engine) Events() ([]*cep.Event, error) {
	return e.store.ListEvents()
}

// InitSampleData clears the store and seeds it with the four
// demonstration T-units. Returns the number inserted.
func (e *Engine) InitSampleData(ctx context.Context) (int, error) {
	if err := e.store.Reset(); err != nil {
		return 0, fmt.Errorf("engine: reset: %w", err)
	}

	samples := []struct {
		content string
		valence cep.Valence
		linkage string
	}{
		{
			"The nature of consciousness is recursive",
			cep.Valence{Curiosity: 0.8, Certainty: 0.3, Dissonance: 0.6},
			cep.LinkageFoundational,
		},
		{
			"Thoughts emerge from the interaction of simpler units",
			cep.Valence{Curiosity: 0.7, Certainty: 0.5, Dissonance: 0.2},
			cep.LinkageGenerative,
		},
		{
			"Cognitive dissonance drives transformation",
			cep.Valence{Curiosity: 0.6, Certainty: 0.4, Dissonance: 0.9},
			cep.LinkageTransformational,
		},
		{
			"Understanding emerges through synthesis",
			cep.Valence{Curiosity: 0.9, Certainty: 0.7, Dissonance: 0.1},
			cep.LinkageSynthetic,
		},
	}
	for _, s := range samples {
		u := &cep.TUnit{
			ID:        uuid.NewString(),
			Content:   s.content,
			Valence:   s.valence,
			Linkage:   s.linkage,
			CreatedAt: nowMillis(),
		}
		e.embedUnit(ctx, u)
		if err := e.store.UpsertTUnit(u); err != nil {
			return 0, fmt.Errorf("engine: seed sample data: %w", err)
		}
	}

	e.log.Info("sample data initialized", zap.Int("count", len(samples)))
	return len(samples), nil
}

// embedUnit attaches an embedding when a provider is available. Failure
// is non-fatal: the unit stays unembedded and EmbedMissing can retry.
func (e *Engine) embedUnit(ctx context.Context, u *cep.TUnit) {
	if e.provider == nil {
		return
	}
	vec, err := e.provider.Embed(ctx, u.Content)
	if err != nil {
		e.log.Warn("embedding failed", zap.String("id", u.ID), zap.Error(err))
		return
	}
	u.Embedding = vec
	if e.index != nil {
		if err := e.index.Add(u.ID, vec); err != nil {
			e.log.Warn("index add failed", zap.String("id", u.ID), zap.Error(err))
		}
	}
}

// appendEvent logs an event; failures are logged, never propagated,
// since the primary mutation has already committed.
func (e *Engine) appendEvent(eventType, tUnitID string, metadata map[string]any) {
	ev := &cep.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TUnitID:   tUnitID,
		Metadata:  metadata,
		CreatedAt: nowMillis(),
	}
	if err := e.store.AppendEvent(ev); err != nil {
		e.log.Warn("event append failed", zap.String("type", eventType), zap.Error(err))
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
