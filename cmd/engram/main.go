// Command engram manages the semantic memory store and hosts the embedding
// worker process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/config"
	"github.com/engram-dev/engram/extract"
	"github.com/engram-dev/engram/llm"
	"github.com/engram-dev/engram/memory"
	"github.com/engram-dev/engram/memory/embedder/cached"
	"github.com/engram-dev/engram/memory/embedder/onnx"
	"github.com/engram-dev/engram/memory/embedder/proc"
	"github.com/engram-dev/engram/memory/store/sqlite"
	"github.com/engram-dev/engram/sig"
)

var (
	configPath string
	project    string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Semantic memory engine for coding agents",
	Long: `engram stores durable facts with embeddings and surfaces them when
structurally related source code is read.`,
	SilenceUsage: true,
}

var rememberCmd = &cobra.Command{
	Use:   "remember <text>",
	Short: "Store a memory by hand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := manager.Remember(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Stored memory %d\n", id)
		return nil
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <file>",
	Short: "Recall memories related to a source file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		manager, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()

		matches, err := manager.RecallForFile(context.Background(), args[0], string(content))
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("No related memories.")
			return nil
		}
		fmt.Println(manager.FormatMatches(matches))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search memories by free text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		limit, _ := cmd.Flags().GetInt("limit")

		store, embedder, cleanup, err := openBackends()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		embedding, err := embedder.Embed(ctx, args[0])
		if err != nil {
			return err
		}
		matches, err := store.Search(ctx, embedding, threshold, limit)
		if err != nil {
			return err
		}
		for _, match := range matches {
			fmt.Printf("%4d  %.3f  %s\n", match.ID, match.Similarity, match.Text)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all memories, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		memories, err := store.List(context.Background())
		if err != nil {
			return err
		}
		for _, mem := range memories {
			fmt.Printf("%4d  %s  [%s]  %s\n", mem.ID, mem.CreatedAt, mem.SessionID, mem.Text)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a memory by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}

		store, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := store.Delete(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted memory %d\n", id)
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <transcript.json>",
	Short: "Extract and store memories from a session transcript",
	Long: `record runs LLM extraction over a transcript file (a JSON array of
{"role","text"} objects) and stores the facts that are not near-duplicates
of existing memories. Requires ANTHROPIC_API_KEY.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var messages []extract.Message
		if err := json.Unmarshal(data, &messages); err != nil {
			return fmt.Errorf("parse transcript %s: %w", args[0], err)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		manager, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()

		client := anthropic.NewClient()
		completer := llm.NewAnthropic(&client, cfg.Extraction.Model)

		stored, err := manager.RecordSession(context.Background(), sessionID, messages, completer)
		if err != nil {
			return err
		}
		fmt.Printf("Stored %d memories\n", stored)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		count, err := store.Count(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Database: %s\n", resolveDBPath())
		fmt.Printf("Memories: %d\n", count)
		fmt.Printf("Languages: %d\n", len(sig.SupportedLanguages()))
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:    "embed-worker",
	Short:  "Run the embedding worker (spawned by the engine)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		// Protocol frames own stdout; everything else goes to stderr.
		log.SetOutput(os.Stderr)

		embedder, err := onnx.New(onnx.Config{
			ModelPath:     cfg.Embedding.ModelPath,
			TokenizerPath: cfg.Embedding.TokenizerPath,
			LibraryPath:   cfg.Embedding.LibraryPath,
			Dimensions:    cfg.Embedding.Dimensions,
		})
		if err != nil {
			return err
		}
		defer embedder.Close()

		ctx := context.Background()
		return proc.Serve(os.Stdin, os.Stdout, func(texts []string) ([][]float32, error) {
			return embedder.EmbedBatch(ctx, texts)
		})
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "config file")
	rootCmd.PersistentFlags().StringVar(&project, "project", "", "project identity (default: working directory)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (overrides project resolution)")

	searchCmd.Flags().Float64("threshold", 0.3, "minimum similarity")
	searchCmd.Flags().Int("limit", 10, "maximum results")
	recordCmd.Flags().String("session", "", "session id (default: generated)")

	rootCmd.AddCommand(rememberCmd, recallCmd, recordCmd, searchCmd, listCmd, deleteCmd, statsCmd, workerCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "engram.yaml"
	}
	return filepath.Join(home, ".engram", "config.yaml")
}

func resolveDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}
	id := project
	if id == "" {
		if wd, err := os.Getwd(); err == nil {
			id = wd
		}
	}
	return config.ProjectDBPath(cfg.DataDir, id)
}

func openStore() (memory.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.Open(resolveDBPath(), cfg.Embedding.Dimensions)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func openBackends() (memory.Store, memory.Embedder, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := sqlite.Open(resolveDBPath(), cfg.Embedding.Dimensions)
	if err != nil {
		return nil, nil, nil, err
	}

	command := cfg.Embedding.WorkerCommand
	workerArgs := cfg.Embedding.WorkerArgs
	if command == "" {
		// Re-exec ourselves as the worker.
		exe, err := os.Executable()
		if err != nil {
			store.Close()
			return nil, nil, nil, err
		}
		command = exe
		workerArgs = []string{"embed-worker", "--config", configPath}
	}

	client := proc.New(command, workerArgs, cfg.Embedding.Dimensions)
	embedder, err := cached.New(client, cfg.Embedding.CacheEntries)
	if err != nil {
		client.Close()
		store.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		sig.Dispose()
		embedder.Close()
		store.Close()
	}
	return store, embedder, cleanup, nil
}

func openManager() (*memory.Manager, func(), error) {
	store, embedder, cleanup, err := openBackends()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	manager := memory.NewManager(store, embedder, &memory.Config{
		RecallThreshold: cfg.Recall.Threshold,
		RecallLimit:     cfg.Recall.Limit,
		DedupThreshold:  cfg.Extraction.DedupThreshold,
		MaxMemories:     cfg.Extraction.MaxMemories,
	})
	return manager, cleanup, nil
}
