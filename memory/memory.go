package memory

import (
	"context"
)

// SessionManual is the provenance tag for memories entered by hand rather
// than extracted from a session transcript.
const SessionManual = "manual"

// DefaultDimensions matches the all-MiniLM-L6-v2 embedding model.
const DefaultDimensions = 384

// Memory is a persisted durable fact.
type Memory struct {
	// ID is unique and monotonically assigned, stable for the record's life.
	ID int64 `json:"id"`

	// Text is the fact itself, human-readable and non-empty.
	Text string `json:"text"`

	// CreatedAt is the ISO-8601 insertion timestamp, immutable.
	CreatedAt string `json:"created_at"`

	// SessionID is the originating session, or SessionManual.
	SessionID string `json:"session_id"`

	// Embedding is the unit-normalized vector for similarity search.
	// Callers are responsible for normalization; stores do not normalize.
	Embedding []float32 `json:"-"`
}

// MemoryMatch pairs a Memory with its similarity to a query embedding.
// Similarity is in [0,1] for normalized vectors. Matches are query results
// only and are never persisted.
type MemoryMatch struct {
	Memory
	Similarity float64 `json:"similarity"`
}

// Store is the vector storage backend.
//
// Implementations guarantee that Add and Delete are transactional: the
// text/metadata row and the vector-index entry change together or not at
// all. There is no update operation; memories are inserted and deleted,
// never mutated.
type Store interface {
	// Add persists a memory and returns its assigned id. The embedding's
	// length must equal the store's configured dimension.
	Add(ctx context.Context, text string, embedding []float32, sessionID string) (int64, error)

	// Search returns up to limit memories whose similarity to the query
	// embedding is at least threshold, highest similarity first.
	Search(ctx context.Context, embedding []float32, threshold float64, limit int) ([]MemoryMatch, error)

	// Delete removes a memory and its vector entry. Deleting a
	// nonexistent id is a no-op.
	Delete(ctx context.Context, id int64) error

	// List returns all memories, newest first.
	List(ctx context.Context) ([]Memory, error)

	// Count returns the number of persisted memories.
	Count(ctx context.Context) (int, error)

	// Close releases the backing resources.
	Close() error
}

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts in order. An empty input returns an empty
	// result without invoking the model.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Close releases the model and any worker resources.
	Close() error
}
