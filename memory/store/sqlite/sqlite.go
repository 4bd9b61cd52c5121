// Package sqlite implements the durable memory.Store backend.
//
// Memories live in two tables written under one transaction: a metadata row
// in memories and a BLOB-encoded vector row in vectors. The database runs
// in WAL mode so one writer and concurrent readers from other processes can
// coexist; multi-process write coordination beyond SQLite's own locking is
// out of scope.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/engram-dev/engram/memory"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store is a SQLite-backed vector store.
type Store struct {
	db   *sql.DB
	dims int

	mu     sync.Mutex
	closed bool
}

// Open opens (or creates) the database at path with the given embedding
// dimension, creating parent directories as needed.
func Open(path string, dims int) (*Store, error) {
	if path == "" {
		return nil, memory.WrapOp("open", fmt.Errorf("database path cannot be empty"))
	}
	if dims <= 0 {
		return nil, memory.WrapOp("open", fmt.Errorf("embedding dimension must be positive, got %d", dims))
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, memory.WrapOp("open", fmt.Errorf("create store dir: %w", err))
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, memory.WrapOp("open", fmt.Errorf("open database: %w", err))
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, memory.WrapOp("open", fmt.Errorf("pragma %q: %w", p, err))
		}
	}

	s := &Store{db: db, dims: dims}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, memory.WrapOp("open", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		text       TEXT NOT NULL,
		session_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS vectors (
		memory_id INTEGER PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
		embedding BLOB NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	return nil
}

// Add inserts the text row and its vector row atomically and returns the
// assigned id.
func (s *Store) Add(ctx context.Context, text string, embedding []float32, sessionID string) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, memory.WrapOp("add", err)
	}
	if len(embedding) != s.dims {
		return 0, memory.WrapOp("add", memory.DimensionError(s.dims, len(embedding)))
	}

	blob := encodeVector(embedding)
	createdAt := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, memory.WrapOp("add", fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO memories (text, session_id, created_at) VALUES (?, ?, ?)",
		text, sessionID, createdAt)
	if err != nil {
		return 0, memory.WrapOp("add", fmt.Errorf("insert memory: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, memory.WrapOp("add", fmt.Errorf("last insert id: %w", err))
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO vectors (memory_id, embedding) VALUES (?, ?)", id, blob); err != nil {
		return 0, memory.WrapOp("add", fmt.Errorf("insert vector: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return 0, memory.WrapOp("add", fmt.Errorf("commit: %w", err))
	}

	log.Printf("[SQLITE] Stored memory id=%d session=%s", id, sessionID)
	return id, nil
}

// Search scans the vector table by squared L2 distance and converts each
// candidate to cosine similarity via 1 - d2/2, the exact identity for unit
// vectors. More candidates than limit are considered (at least 2*limit,
// floor 20) because threshold filtering may discard some; results come back
// similarity-descending.
func (s *Store) Search(ctx context.Context, embedding []float32, threshold float64, limit int) ([]memory.MemoryMatch, error) {
	if err := s.guard(); err != nil {
		return nil, memory.WrapOp("search", err)
	}
	if len(embedding) != s.dims {
		return nil, memory.WrapOp("search", memory.DimensionError(s.dims, len(embedding)))
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.text, m.session_id, m.created_at, v.embedding
		FROM memories m JOIN vectors v ON v.memory_id = m.id`)
	if err != nil {
		return nil, memory.WrapOp("search", fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	type candidate struct {
		mem  memory.Memory
		dist float64
	}
	var candidates []candidate
	for rows.Next() {
		var mem memory.Memory
		var blob []byte
		if err := rows.Scan(&mem.ID, &mem.Text, &mem.SessionID, &mem.CreatedAt, &blob); err != nil {
			return nil, memory.WrapOp("search", fmt.Errorf("scan: %w", err))
		}
		vec, err := decodeVector(blob)
		if err != nil || len(vec) != s.dims {
			continue
		}
		mem.Embedding = vec
		candidates = append(candidates, candidate{mem: mem, dist: squaredL2(embedding, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, memory.WrapOp("search", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	fetch := 2 * limit
	if fetch < 20 {
		fetch = 20
	}
	if len(candidates) > fetch {
		candidates = candidates[:fetch]
	}

	var matches []memory.MemoryMatch
	for _, c := range candidates {
		sim := 1 - c.dist/2
		if sim < threshold {
			continue
		}
		matches = append(matches, memory.MemoryMatch{Memory: c.mem, Similarity: sim})
		if len(matches) == limit {
			break
		}
	}
	return matches, nil
}

// Delete removes the memory row and its vector row in one transaction.
// A nonexistent id is a no-op.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.guard(); err != nil {
		return memory.WrapOp("delete", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memory.WrapOp("delete", fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE memory_id = ?", id); err != nil {
		return memory.WrapOp("delete", fmt.Errorf("delete vector: %w", err))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id); err != nil {
		return memory.WrapOp("delete", fmt.Errorf("delete memory: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return memory.WrapOp("delete", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// List returns all memories, newest first.
func (s *Store) List(ctx context.Context) ([]memory.Memory, error) {
	if err := s.guard(); err != nil {
		return nil, memory.WrapOp("list", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text, session_id, created_at FROM memories ORDER BY id DESC")
	if err != nil {
		return nil, memory.WrapOp("list", fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	var memories []memory.Memory
	for rows.Next() {
		var mem memory.Memory
		if err := rows.Scan(&mem.ID, &mem.Text, &mem.SessionID, &mem.CreatedAt); err != nil {
			return nil, memory.WrapOp("list", fmt.Errorf("scan: %w", err))
		}
		memories = append(memories, mem)
	}
	return memories, rows.Err()
}

// Count returns the number of persisted memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, memory.WrapOp("count", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n); err != nil {
		return 0, memory.WrapOp("count", err)
	}
	return n, nil
}

// Close closes the database connection. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return memory.ErrStoreClosed
	}
	return nil
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
