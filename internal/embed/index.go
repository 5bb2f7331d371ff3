package embed

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	"github.com/hack-pad/hackpadfs"
	kvector "github.com/kshard/vector"
)

// Index is an HNSW approximate-nearest-neighbor index over T-unit
// embeddings, persisted to a hackpadfs filesystem. HNSW keys are
// uint32, so the index keeps a bidirectional mapping to T-unit ids.
type Index struct {
	fs   hackpadfs.FS
	path string

	mu    sync.RWMutex
	index *hnsw.HNSW[vector.VF32]
	ids   []string       // key -> T-unit id, key is the slice position
	keys  map[string]int // T-unit id -> key
}

// indexSnapshot is the gob persistence format: the HNSW node graph
// plus the key-to-id table.
type indexSnapshot struct {
	Nodes hnsw.Nodes[vector.VF32]
	IDs   []string
}

// NewIndex opens the index at path, loading a persisted snapshot when
// one exists and starting empty otherwise.
func NewIndex(fs hackpadfs.FS, path string) (*Index, error) {
	idx := &Index{
		fs:   fs,
		path: path,
		keys: make(map[string]int),
	}
	if err := idx.Load(); err != nil {
		idx.index = hnsw.New[vector.VF32](vector.SurfaceVF32(kvector.Cosine()))
		idx.ids = nil
		idx.keys = make(map[string]int)
	}
	return idx, nil
}

// Size returns the number of indexed T-units.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Has reports whether the T-unit id is already indexed.
func (x *Index) Has(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.keys[id]
	return ok
}

// Add inserts an embedding under the given T-unit id. Re-adding an
// existing id is a no-op: HNSW has no update, callers that need one
// must rebuild.
func (x *Index) Add(id string, vec []float64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := checkAligned(vec); err != nil {
		return err
	}
	if _, ok := x.keys[id]; ok {
		return nil
	}
	if x.index.Size() > 0 {
		dim := len(x.index.Head().Vec)
		if len(vec) != dim {
			return fmt.Errorf("embed: dimension mismatch: index has %d, got %d", dim, len(vec))
		}
	}

	key := len(x.ids)
	x.index.Insert(vector.VF32{Key: uint32(key), Vec: toFloat32(vec)})
	x.ids = append(x.ids, id)
	x.keys[id] = key
	return nil
}

// Search returns the ids of the k nearest indexed T-units.
func (x *Index) Search(vec []float64, k int) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if err := checkAligned(vec); err != nil {
		return nil, err
	}
	if k <= 0 || x.index.Size() == 0 {
		return nil, nil
	}
	dim := len(x.index.Head().Vec)
	if len(vec) != dim {
		return nil, fmt.Errorf("embed: dimension mismatch: index has %d, got %d", dim, len(vec))
	}

	ef := k * 2
	if ef < 100 {
		ef = 100
	}
	results := x.index.Search(vector.VF32{Vec: toFloat32(vec)}, k, ef)

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if int(r.Key) < len(x.ids) {
			ids = append(ids, x.ids[r.Key])
		}
	}
	return ids, nil
}

// Save persists the index snapshot to the filesystem.
func (x *Index) Save() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	snap := indexSnapshot{
		Nodes: x.index.Nodes(),
		IDs:   x.ids,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("embed: encode index: %w", err)
	}
	if err := hackpadfs.WriteFullFile(x.fs, x.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("embed: write index file: %w", err)
	}
	return nil
}

// Load reads a persisted snapshot and rehydrates the HNSW graph.
func (x *Index) Load() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	content, err := hackpadfs.ReadFile(x.fs, x.path)
	if err != nil {
		return err
	}

	var snap indexSnapshot
	if err := gob.NewDecoder(bytes.NewReader(content)).Decode(&snap); err != nil {
		return fmt.Errorf("embed: decode index: %w", err)
	}

	x.index = hnsw.FromNodes[vector.VF32](
		vector.SurfaceVF32(kvector.Cosine()),
		snap.Nodes,
	)
	x.ids = snap.IDs
	x.keys = make(map[string]int, len(snap.IDs))
	for key, id := range snap.IDs {
		x.keys[id] = key
	}
	return nil
}

// checkAligned guards the cosine kernel, which processes vectors in
// lanes of 4 floats and panics on other lengths.
func checkAligned(vec []float64) error {
	if len(vec)%4 != 0 {
		return fmt.Errorf("embed: vector length %d is not a multiple of 4", len(vec))
	}
	return nil
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
