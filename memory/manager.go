package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/engram-dev/engram/extract"
	"github.com/engram-dev/engram/llm"
	"github.com/engram-dev/engram/sig"
)

// Config holds Manager thresholds and limits.
type Config struct {
	// RecallThreshold is the minimum similarity for a memory to surface
	// on a file read. Default: 0.3.
	RecallThreshold float64

	// RecallLimit caps automatic recall results. Default: 5.
	RecallLimit int

	// DedupThreshold is the similarity above which a candidate memory is
	// a duplicate of an existing one. Default: 0.9.
	DedupThreshold float64

	// MaxMemories caps one extraction run. Default: 20.
	MaxMemories int
}

// DefaultConfig returns sensible defaults.
var DefaultConfig = &Config{
	RecallThreshold: 0.3,
	RecallLimit:     5,
	DedupThreshold:  0.9,
	MaxMemories:     extract.DefaultMaxMemories,
}

// Manager orchestrates the memory engine: signature extraction on reads,
// extraction plus dedup on session end. It owns no policy about what to
// remember; that judgment belongs to the LLM extraction step.
type Manager struct {
	store    Store
	embedder Embedder
	config   *Config

	closeOnce sync.Once
	closeErr  error
}

// NewManager creates a Manager over the given backends.
func NewManager(store Store, embedder Embedder, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig
	}
	return &Manager{store: store, embedder: embedder, config: config}
}

// RecallForFile surfaces memories structurally related to a source file.
// Files without a signature (unsupported extension, empty, no structure)
// skip silently with no results and no error.
func (m *Manager) RecallForFile(ctx context.Context, path string, content string) ([]MemoryMatch, error) {
	signature, ok := sig.ExtractSignature(path, content)
	if !ok {
		return nil, nil
	}

	embedding, err := m.embedder.Embed(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("embed signature: %w", err)
	}

	matches, err := m.store.Search(ctx, embedding, m.config.RecallThreshold, m.config.RecallLimit)
	if err != nil {
		return nil, fmt.Errorf("search store: %w", err)
	}

	log.Printf("[MEMORY] Recalled %d memories for %s", len(matches), path)
	return matches, nil
}

// RecordSession extracts durable facts from a transcript and persists the
// ones that are not near-duplicates of existing memories. Returns the
// number stored. A missing sessionID gets a fresh uuid.
func (m *Manager) RecordSession(ctx context.Context, sessionID string, messages []extract.Message, completer llm.Completer) (int, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	existing, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list existing: %w", err)
	}
	existingTexts := make([]string, 0, len(existing))
	for _, mem := range existing {
		existingTexts = append(existingTexts, mem.Text)
	}

	candidates, err := extract.Extract(ctx, messages, completer, extract.Options{
		MaxMemories:      m.config.MaxMemories,
		ExistingMemories: existingTexts,
	})
	if err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}
	if len(candidates) == 0 {
		log.Printf("[MEMORY] Nothing to record for session %s", sessionID)
		return 0, nil
	}

	stored := 0
	for _, candidate := range candidates {
		embedding, err := m.embedder.Embed(ctx, candidate.Text)
		if err != nil {
			log.Printf("[MEMORY] Failed to embed candidate: %v", err)
			continue
		}

		dups, err := m.store.Search(ctx, embedding, m.config.DedupThreshold, 1)
		if err != nil {
			log.Printf("[MEMORY] Dedup search failed: %v", err)
			continue
		}
		if len(dups) > 0 {
			log.Printf("[MEMORY] Skipping duplicate (%.2f): %s", dups[0].Similarity, truncateLog(candidate.Text, 60))
			continue
		}

		if _, err := m.store.Add(ctx, candidate.Text, embedding, sessionID); err != nil {
			log.Printf("[MEMORY] Failed to store candidate: %v", err)
			continue
		}
		stored++
	}

	log.Printf("[MEMORY] Recorded %d of %d candidates for session %s", stored, len(candidates), sessionID)
	return stored, nil
}

// Remember persists a manually entered memory.
func (m *Manager) Remember(ctx context.Context, text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("remember: empty text")
	}
	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}
	return m.store.Add(ctx, text, embedding, SessionManual)
}

// FormatMatches renders matches as a numbered block for prompt injection.
func (m *Manager) FormatMatches(matches []MemoryMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var parts []string
	parts = append(parts, "=== RELEVANT MEMORIES ===")
	for i, match := range matches {
		parts = append(parts, fmt.Sprintf("%d. %s (similarity %.2f)", i+1, match.Text, match.Similarity))
	}
	return strings.Join(parts, "\n")
}

// Close releases the store, the embedder and the parser caches. Idempotent
// and safe to register as an exit hook.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		sig.Dispose()
		if err := m.embedder.Close(); err != nil {
			m.closeErr = err
		}
		if err := m.store.Close(); err != nil && m.closeErr == nil {
			m.closeErr = err
		}
	})
	return m.closeErr
}

// truncateLog truncates text for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
