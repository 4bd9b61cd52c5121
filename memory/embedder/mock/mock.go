// Package mock provides a deterministic embedder for tests: no model
// files, no worker process, stable output per input text.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/engram-dev/engram/memory"
)

// Embedder generates hash-seeded pseudo-random unit vectors.
type Embedder struct {
	dims int
}

var _ memory.Embedder = (*Embedder)(nil)

// New creates a mock embedder with the given dimension (default 384).
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = memory.DefaultDimensions
	}
	return &Embedder{dims: dims}
}

// Embed derives a deterministic unit vector from the text's FNV hash.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dims)
	for i := range vec {
		// LCG step per component.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds texts in order.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int { return m.dims }

// Close is a no-op.
func (m *Embedder) Close() error { return nil }

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
