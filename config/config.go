// Package config loads engram's YAML configuration and resolves per-project
// database paths.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures storage, embedding, recall and extraction settings.
type Config struct {
	// DataDir is the root under which per-project databases are nested.
	DataDir    string           `yaml:"data_dir"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Recall     RecallConfig     `yaml:"recall"`
	Extraction ExtractionConfig `yaml:"extraction"`
}

// EmbeddingConfig configures the worker process and the model it loads.
type EmbeddingConfig struct {
	// WorkerCommand is the executable spawned as the embedding worker.
	// Empty means re-exec the current binary with the embed-worker
	// subcommand.
	WorkerCommand string   `yaml:"worker_command"`
	WorkerArgs    []string `yaml:"worker_args"`

	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	LibraryPath   string `yaml:"library_path"`
	Dimensions    int    `yaml:"dimensions"`
	CacheEntries  int64  `yaml:"cache_entries"`
}

// RecallConfig governs automatic recall on file reads.
type RecallConfig struct {
	Threshold float64 `yaml:"threshold"`
	Limit     int     `yaml:"limit"`
}

// ExtractionConfig governs session-end memory extraction.
type ExtractionConfig struct {
	Model          string  `yaml:"model"`
	MaxMemories    int     `yaml:"max_memories"`
	DedupThreshold float64 `yaml:"dedup_threshold"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir: filepath.Join(home, ".engram"),
		Embedding: EmbeddingConfig{
			Dimensions:   384,
			CacheEntries: 1024,
		},
		Recall: RecallConfig{
			Threshold: 0.3,
			Limit:     5,
		},
		Extraction: ExtractionConfig{
			Model:          "claude-sonnet-4-20250514",
			MaxMemories:    20,
			DedupThreshold: 0.9,
		},
	}
}

// Load reads the YAML file at path, layered over defaults. A missing file
// yields the defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Recall.Limit <= 0 {
		cfg.Recall.Limit = 5
	}
	return cfg, nil
}

// ProjectDBPath returns the database file for a project identity: one file
// per logical project, nested under root by a short hash of the identity
// string.
func ProjectDBPath(root, projectID string) string {
	normalized := strings.TrimSpace(strings.ToLower(projectID))
	sum := sha256.Sum256([]byte(normalized))
	short := hex.EncodeToString(sum[:])[:12]
	return filepath.Join(root, short, "memories.db")
}
