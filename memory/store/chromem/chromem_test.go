package chromem

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/engram-dev/engram/memory"
)

const testDims = 4

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(testDims)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func unit(axis int) []float32 {
	vec := make([]float32, testDims)
	vec[axis] = 1
	return vec
}

func TestNewRejectsBadDimension(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("zero dimension accepted")
	}
	if _, err := New(-3); err == nil {
		t.Error("negative dimension accepted")
	}
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Add(ctx, "one", unit(0), "s")
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Add(ctx, "two", unit(1), "s")
	if err != nil {
		t.Fatal(err)
	}
	if second != first+1 {
		t.Errorf("ids %d, %d not sequential", first, second)
	}
}

func TestSearchSimilarityAndThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, "near", unit(0), "s"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(ctx, "far", unit(1), "s"); err != nil {
		t.Fatal(err)
	}

	matches, err := store.Search(ctx, unit(0), 0.5, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Text != "near" {
		t.Fatalf("got %+v, want only the exact match", matches)
	}
	if math.Abs(matches[0].Similarity-1.0) > 1e-4 {
		t.Errorf("exact match similarity = %f, want ~1.0", matches[0].Similarity)
	}

	// Threshold zero keeps both, ordered by similarity.
	matches, err = store.Search(ctx, unit(0), 0.0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("threshold 0 returned %d matches", len(matches))
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Error("results not similarity-descending")
	}
}

func TestSearchEmptyStore(t *testing.T) {
	store := newTestStore(t)
	matches, err := store.Search(context.Background(), unit(0), 0.0, 5)
	if err != nil {
		t.Fatalf("search on empty store errored: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("empty store returned matches: %+v", matches)
	}
}

func TestDimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, "bad", []float32{1}, "s"); !errors.Is(err, memory.ErrDimensionMismatch) {
		t.Fatalf("Add: expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := store.Search(ctx, []float32{1, 2}, 0, 5); !errors.Is(err, memory.ErrDimensionMismatch) {
		t.Fatalf("Search: expected ErrDimensionMismatch, got %v", err)
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("failed add mutated state: count = %d", count)
	}
}

func TestDeleteRemovesFromSearchAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Add(ctx, "doomed", unit(0), "s")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("second delete of same id errored: %v", err)
	}

	matches, err := store.Search(ctx, unit(0), 0.0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("deleted memory still searchable: %+v", matches)
	}
	memories, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(memories) != 0 {
		t.Fatalf("deleted memory still listed: %+v", memories)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, text := range []string{"first", "second", "third"} {
		if _, err := store.Add(ctx, text, unit(i%testDims), "s"); err != nil {
			t.Fatal(err)
		}
	}

	memories, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(memories) != 3 {
		t.Fatalf("got %d memories", len(memories))
	}
	if memories[0].Text != "third" || memories[2].Text != "first" {
		t.Errorf("not newest first: %v, %v, %v", memories[0].Text, memories[1].Text, memories[2].Text)
	}
}

func TestClosedStore(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(context.Background(), "x", unit(0), "s"); !errors.Is(err, memory.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.List(context.Background()); !errors.Is(err, memory.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}
