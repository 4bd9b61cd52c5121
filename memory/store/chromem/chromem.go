// Package chromem implements an ephemeral, in-memory memory.Store on top
// of chromem-go. It serves tests and throwaway runs; durable projects use
// the sqlite backend.
package chromem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/engram-dev/engram/memory"
)

// Store keeps memories in a single chromem collection plus an id-keyed
// side table for List/Count/Delete, which chromem does not index by id.
type Store struct {
	col  *chromem.Collection
	dims int

	mu       sync.Mutex
	memories map[int64]memory.Memory
	nextID   int64
	closed   bool
}

// New creates an empty in-memory store with the given embedding dimension.
func New(dims int) (*Store, error) {
	if dims <= 0 {
		return nil, memory.WrapOp("open", fmt.Errorf("embedding dimension must be positive, got %d", dims))
	}

	db := chromem.NewDB()
	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := db.CreateCollection("memories", nil, nil)
	if err != nil {
		return nil, memory.WrapOp("open", fmt.Errorf("create collection: %w", err))
	}

	return &Store{
		col:      col,
		dims:     dims,
		memories: make(map[int64]memory.Memory),
		nextID:   1,
	}, nil
}

// Add stores a memory. The side table is only updated after the chromem
// insert succeeds, so a failed insert leaves the store unchanged.
func (s *Store) Add(ctx context.Context, text string, embedding []float32, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, memory.WrapOp("add", memory.ErrStoreClosed)
	}
	if len(embedding) != s.dims {
		return 0, memory.WrapOp("add", memory.DimensionError(s.dims, len(embedding)))
	}

	id := s.nextID
	mem := memory.Memory{
		ID:        id,
		Text:      text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		SessionID: sessionID,
		Embedding: embedding,
	}

	doc := chromem.Document{
		ID:        strconv.FormatInt(id, 10),
		Content:   text,
		Embedding: embedding,
		Metadata: map[string]string{
			"session_id": sessionID,
			"created_at": mem.CreatedAt,
		},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return 0, memory.WrapOp("add", fmt.Errorf("add document: %w", err))
	}

	s.memories[id] = mem
	s.nextID++
	return id, nil
}

// Search queries chromem for nearest neighbors and filters by threshold.
// chromem reports cosine similarity natively, so no distance conversion is
// needed on this backend.
func (s *Store) Search(ctx context.Context, embedding []float32, threshold float64, limit int) ([]memory.MemoryMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, memory.WrapOp("search", memory.ErrStoreClosed)
	}
	if len(embedding) != s.dims {
		return nil, memory.WrapOp("search", memory.DimensionError(s.dims, len(embedding)))
	}
	if limit <= 0 {
		limit = 5
	}

	fetch := 2 * limit
	if fetch < 20 {
		fetch = 20
	}
	// chromem rejects nResults above the collection size.
	if n := s.col.Count(); fetch > n {
		fetch = n
	}
	if fetch == 0 {
		return nil, nil
	}

	results, err := s.col.QueryEmbedding(ctx, embedding, fetch, nil, nil)
	if err != nil {
		return nil, memory.WrapOp("search", fmt.Errorf("query: %w", err))
	}

	var matches []memory.MemoryMatch
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < threshold {
			continue
		}
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		mem, ok := s.memories[id]
		if !ok {
			continue
		}
		matches = append(matches, memory.MemoryMatch{Memory: mem, Similarity: sim})
		if len(matches) == limit {
			break
		}
	}
	return matches, nil
}

// Delete removes a memory from the collection and the side table.
// A nonexistent id is a no-op.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return memory.WrapOp("delete", memory.ErrStoreClosed)
	}
	if _, ok := s.memories[id]; !ok {
		return nil
	}
	if err := s.col.Delete(ctx, nil, nil, strconv.FormatInt(id, 10)); err != nil {
		return memory.WrapOp("delete", fmt.Errorf("delete document: %w", err))
	}
	delete(s.memories, id)
	return nil
}

// List returns all memories, newest first.
func (s *Store) List(ctx context.Context) ([]memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, memory.WrapOp("list", memory.ErrStoreClosed)
	}

	memories := make([]memory.Memory, 0, len(s.memories))
	for _, mem := range s.memories {
		memories = append(memories, mem)
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].ID > memories[j].ID })
	return memories, nil
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, memory.WrapOp("count", memory.ErrStoreClosed)
	}
	return len(s.memories), nil
}

// Close marks the store closed. chromem keeps everything in process
// memory, so there is nothing else to release.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
