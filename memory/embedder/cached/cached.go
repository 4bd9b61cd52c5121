// Package cached wraps a memory.Embedder with a ristretto cache.
//
// Signatures repeat heavily across reads of the same file, and every cache
// hit saves a round trip to the embedding worker.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto"

	"github.com/engram-dev/engram/memory"
)

// Embedder caches vectors by text hash in front of an inner embedder.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

var _ memory.Embedder = (*Embedder)(nil)

// New wraps inner with a cache holding up to maxEntries vectors.
func New(inner memory.Embedder, maxEntries int64) (*Embedder, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text or computes and caches it.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashText(text)
	if v, ok := e.cache.Get(key); ok {
		return cloneVector(v.([]float32)), nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, cloneVector(vec), 1)
	return vec, nil
}

// EmbedBatch fills hits from the cache and sends only the misses to the
// inner embedder in one batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if v, ok := e.cache.Get(hashText(text)); ok {
			vectors[i] = cloneVector(v.([]float32))
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return vectors, nil
	}

	computed, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		vectors[i] = computed[j]
		e.cache.Set(hashText(texts[i]), cloneVector(computed[j]), 1)
	}
	return vectors, nil
}

// Dimensions returns the inner embedder's vector size.
func (e *Embedder) Dimensions() int { return e.inner.Dimensions() }

// Close releases the cache and the inner embedder.
func (e *Embedder) Close() error {
	e.cache.Close()
	return e.inner.Close()
}

// Wait flushes pending cache writes. Useful in tests; production callers
// never need it.
func (e *Embedder) Wait() { e.cache.Wait() }

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
