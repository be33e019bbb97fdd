package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/cobra"

	"github.com/askgate/askgate/internal/config"
	"github.com/askgate/askgate/internal/knowledge"
	"github.com/askgate/askgate/internal/log"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <chunks.jsonl>",
	Short: "Add knowledge chunks from a JSON-lines file",
	Long: `Reads one JSON object per line and indexes each as a knowledge chunk:

  {"source_ref": "docs/refunds.md", "content": "...", "metadata": {"product": "widget-a"}}

Each chunk is embedded and stored; the command reports the index size when done.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args[0])
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

// ingestLine is one JSONL record.
type ingestLine struct {
	SourceRef string            `json:"source_ref"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func runIngest(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: slog.LevelInfo})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return fmt.Errorf("embedder %q not available", cfg.EmbedderModel)
	}

	store, err := knowledge.NewStore(pool, embedder, logger)
	if err != nil {
		return fmt.Errorf("creating knowledge store: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	added := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line ingestLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if line.SourceRef == "" || line.Content == "" {
			return fmt.Errorf("line %d: source_ref and content are required", lineNo)
		}

		id, err := store.Add(ctx, line.SourceRef, line.Content, line.Metadata)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		logger.Info("chunk indexed", "id", id, "source_ref", line.SourceRef)
		added++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	total, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting chunks: %w", err)
	}
	fmt.Printf("Indexed %d chunks (%d total)\n", added, total)
	return nil
}
