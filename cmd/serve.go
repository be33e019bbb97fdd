package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/askgate/askgate/internal/admission"
	"github.com/askgate/askgate/internal/answer"
	"github.com/askgate/askgate/internal/api"
	"github.com/askgate/askgate/internal/config"
	"github.com/askgate/askgate/internal/filestore"
	"github.com/askgate/askgate/internal/guard"
	"github.com/askgate/askgate/internal/identity"
	"github.com/askgate/askgate/internal/knowledge"
	"github.com/askgate/askgate/internal/log"
	"github.com/askgate/askgate/internal/ratelimit"
	"github.com/askgate/askgate/internal/retrieval"
	"github.com/askgate/askgate/internal/session"
	"github.com/askgate/askgate/internal/token"
)

var serveJSONLogs bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gatekeeper HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json-logs", false, "emit logs as JSON")
	rootCmd.AddCommand(serveCmd)
}

// poolConnectTimeout bounds the initial database connection attempt so a
// wrong DSN fails fast instead of hanging startup.
const poolConnectTimeout = 10 * time.Second

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: serveJSONLogs})
	slog.SetDefault(logger)
	logger.Info("starting askgate", "version", Version, "addr", cfg.ListenAddr)

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

	tokens, err := token.New([]byte(cfg.SigningKey), cfg.TokenTTL, logger)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	identityStore, err := identity.NewStore(pool, logger)
	if err != nil {
		return fmt.Errorf("creating identity store: %w", err)
	}
	identities, err := identity.NewService(identityStore, logger)
	if err != nil {
		return fmt.Errorf("creating identity service: %w", err)
	}

	rules, err := guard.DefaultRules(guard.RuleConfig{
		AllowedMethods:  cfg.AllowedMethods,
		RequiredHeaders: cfg.RequiredHeaders,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		ExtraSignatures: cfg.ExtraSignatures,
	})
	if err != nil {
		return fmt.Errorf("building guard rules: %w", err)
	}
	patternGuard := guard.New(rules, logger)

	limiter := ratelimit.New(cfg.RateLimit, cfg.RateWindow, logger)
	pipeline := admission.New(tokens, limiter, patternGuard, logger)

	knowledgeStore, err := knowledge.NewStore(pool, embedder, logger)
	if err != nil {
		return fmt.Errorf("creating knowledge store: %w", err)
	}
	retriever, err := retrieval.New(knowledgeStore, retrieval.Options{
		TopK:          cfg.RetrievalTopK,
		MinSimilarity: cfg.MinSimilarity,
		Timeout:       cfg.RetrievalTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating retriever: %w", err)
	}

	generator, err := answer.NewGenkitGenerator(g, cfg.ModelName, cfg.GeneratorTimeout, logger)
	if err != nil {
		return fmt.Errorf("creating answer generator: %w", err)
	}
	assembler, err := answer.NewAssembler(cfg.CitationFallback, logger)
	if err != nil {
		return fmt.Errorf("creating answer assembler: %w", err)
	}

	sessions, err := session.NewStore(pool, logger)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	var files *filestore.Store
	if cfg.DocumentBucket != "" {
		files, err = filestore.New(ctx, filestore.Options{
			Bucket:    cfg.DocumentBucket,
			Region:    cfg.AWSRegion,
			URLTTL:    cfg.DocumentURLTTL,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, logger)
		if err != nil {
			return fmt.Errorf("creating document store: %w", err)
		}
	}

	srv, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Identities:  identities,
		Tokens:      tokens,
		Pipeline:    pipeline,
		Inspector:   patternGuard,
		Retriever:   retriever,
		Generator:   generator,
		Assembler:   assembler,
		Sessions:    sessions,
		Files:       files,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.IPRateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	return srv.Run(ctx, cfg.ListenAddr)
}

// newPool creates the PostgreSQL connection pool and verifies it answers.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, poolConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
