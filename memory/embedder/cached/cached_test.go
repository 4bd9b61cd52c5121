package cached

import (
	"context"
	"fmt"
	"testing"
)

// countingEmbedder records which texts reach the inner embedder.
type countingEmbedder struct {
	calls     int
	seenTexts []string
	fail      bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.fail {
		return nil, fmt.Errorf("inner embedder down")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		c.seenTexts = append(c.seenTexts, text)
		vectors[i] = []float32{float32(len(text)), 0}
	}
	return vectors, nil
}

func (c *countingEmbedder) Dimensions() int { return 2 }
func (c *countingEmbedder) Close() error    { return nil }

func TestEmbedCachesRepeats(t *testing.T) {
	inner := &countingEmbedder{}
	e, err := New(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	ctx := context.Background()

	first, err := e.Embed(ctx, "func Save() error")
	if err != nil {
		t.Fatal(err)
	}
	e.Wait()

	second, err := e.Embed(ctx, "func Save() error")
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}
	if first[0] != second[0] {
		t.Errorf("cached vector differs: %v vs %v", first, second)
	}
}

func TestEmbedBatchSendsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{}
	e, err := New(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	ctx := context.Background()

	if _, err := e.Embed(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	e.Wait()
	inner.seenTexts = nil

	vectors, err := e.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors", len(vectors))
	}
	// Positions must line up with the input even when some were cached.
	if vectors[0][0] != 5 || vectors[1][0] != 4 || vectors[2][0] != 5 {
		t.Errorf("vectors misaligned: %v", vectors)
	}
	if len(inner.seenTexts) != 2 || inner.seenTexts[0] != "beta" || inner.seenTexts[1] != "gamma" {
		t.Errorf("inner saw %v, want only the misses", inner.seenTexts)
	}
}

func TestEmbedBatchAllCached(t *testing.T) {
	inner := &countingEmbedder{}
	e, err := New(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	ctx := context.Background()

	if _, err := e.EmbedBatch(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	e.Wait()
	calls := inner.calls

	if _, err := e.EmbedBatch(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if inner.calls != calls {
		t.Errorf("fully cached batch still reached inner embedder")
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	inner := &countingEmbedder{}
	e, err := New(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	vectors, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 0 || inner.calls != 0 {
		t.Errorf("empty batch: vectors=%v calls=%d", vectors, inner.calls)
	}
}

func TestInnerErrorPropagates(t *testing.T) {
	inner := &countingEmbedder{fail: true}
	e, err := New(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("inner error swallowed")
	}
	if _, err := e.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Error("inner batch error swallowed")
	}
}

func TestCachedVectorIsACopy(t *testing.T) {
	inner := &countingEmbedder{}
	e, err := New(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	ctx := context.Background()

	vec, err := e.Embed(ctx, "mutate me")
	if err != nil {
		t.Fatal(err)
	}
	e.Wait()
	vec[0] = -999

	again, err := e.Embed(ctx, "mutate me")
	if err != nil {
		t.Fatal(err)
	}
	if again[0] == -999 {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestDimensionsDelegates(t *testing.T) {
	e, err := New(&countingEmbedder{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if e.Dimensions() != 2 {
		t.Errorf("Dimensions() = %d, want 2", e.Dimensions())
	}
}
