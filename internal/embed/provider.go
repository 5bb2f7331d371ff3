// Package embed supplies embedding vectors for T-unit content and an
// approximate-nearest-neighbor index over them. The core ranking code
// treats embeddings as opaque input; everything here is the external
// "embedding provider" collaborator.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Provider generates vector embeddings for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// RemoteProvider calls an Ollama-compatible /api/embed endpoint.
type RemoteProvider struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

// NewRemoteProvider creates an embedder backed by a remote embedding API.
func NewRemoteProvider(url, model string, dims int) *RemoteProvider {
	return &RemoteProvider{
		url:    url,
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *RemoteProvider) Model() string   { return "remote:" + r.model }
func (r *RemoteProvider) Dimensions() int { return r.dims }

// Embed sends text to the embed endpoint and returns the vector.
func (r *RemoteProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]any{
		"model": r.model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: remote api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embed: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: remote status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embed: remote returned no embeddings")
	}

	r.dims = len(result.Embeddings[0])
	return result.Embeddings[0], nil
}

// Probe checks whether the remote embedding endpoint is reachable and
// the model available.
func Probe(url, model string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	body, _ := json.Marshal(map[string]any{
		"model": model,
		"input": "test",
	})
	resp, err := client.Post(url+"/api/embed", "application/json", bytes.NewReader(body))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// TermProvider is a deterministic offline fallback: tokens are hashed
// into a fixed number of buckets, weighted by term frequency, and the
// vector is L2-normalized. No vocabulary, no network, same text always
// yields the same vector.
type TermProvider struct {
	dims int
}

// NewTermProvider creates a hashed bag-of-words embedder.
func NewTermProvider(dims int) *TermProvider {
	if dims <= 0 {
		dims = 256
	}
	return &TermProvider{dims: dims}
}

func (t *TermProvider) Model() string   { return "term-hash" }
func (t *TermProvider) Dimensions() int { return t.dims }

func (t *TermProvider) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, t.dims)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[int(h.Sum32())%t.dims]++
	}
	normalize(vec)
	return vec, nil
}

// tokenize splits text into lowercase tokens, stripping punctuation and
// single-character fragments.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 1 {
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// normalize performs in-place L2 normalization.
func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}
