package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hibikido/hibikido/internal/config"
	"github.com/hibikido/hibikido/internal/embedding"
	"github.com/hibikido/hibikido/internal/engine"
	"github.com/hibikido/hibikido/internal/importer"
	"github.com/hibikido/hibikido/internal/metrics"
	"github.com/hibikido/hibikido/internal/orchestrator"
	"github.com/hibikido/hibikido/internal/server"
	"github.com/hibikido/hibikido/internal/store"
	"github.com/hibikido/hibikido/internal/textproc"
	"github.com/hibikido/hibikido/internal/vectorindex"
)

var (
	version = "dev"

	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hibikido",
		Short: "Semantic sound invocation server",
		Long: `Hibikidō maps natural-language incantations to sounds and effect
presets via semantic search, and releases matches over time through a
time-frequency admission policy.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hibikido %s\n", version)
		},
	})

	var csvPath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk import recordings and segments from CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(csvPath)
		},
	}
	importCmd.Flags().StringVar(&csvPath, "csv", "", "CSV file to import")
	importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	logger, err := setupLogger(logLevel)
	if err != nil {
		return err
	}

	app, err := buildApp(logger)
	if err != nil {
		return err
	}
	defer app.close()

	orch := orchestrator.New(orchestrator.Config{
		OverlapThreshold: app.cfg.Orchestrator.OverlapThreshold,
		MaxAdmitsPerTick: app.cfg.Orchestrator.MaxAdmitsPerTick,
		DefaultDuration:  app.cfg.Orchestrator.DefaultDuration,
		DefaultFreqLow:   app.cfg.Orchestrator.DefaultFreqLow,
		DefaultFreqHigh:  app.cfg.Orchestrator.DefaultFreqHigh,
	}, nil, logger)

	srv := server.New(app.cfg, app.engine, orch, nil, app.metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server failed", "error", err)
		return err
	}
	return nil
}

func runImport(csvPath string) error {
	logger, err := setupLogger(logLevel)
	if err != nil {
		return err
	}

	app, err := buildApp(logger)
	if err != nil {
		return err
	}
	defer app.close()

	res, err := importer.New(app.engine, logger).ImportCSV(context.Background(), csvPath)
	if err != nil {
		return err
	}
	if err := app.engine.SaveIndex(); err != nil {
		return err
	}
	fmt.Printf("imported %d recordings, %d segments (%d errors)\n",
		res.Recordings, res.Segments, res.Errors)
	return nil
}

// app holds the core stack, initialized in dependency order: store,
// index, embedder, engine.
type app struct {
	cfg     *config.Config
	store   *store.Store
	engine  *engine.Engine
	metrics *metrics.Recorder
}

func buildApp(logger *slog.Logger) (*app, error) {
	// .env may carry the embedding API key.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	index, err := vectorindex.Load(cfg.Embedding.IndexFile, cfg.Embedding.Dimension)
	if err != nil {
		st.Close()
		return nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	rec := metrics.New()
	eng := engine.New(st, index, embedder, textproc.New(), cfg.Embedding.IndexFile, rec, logger)
	if err := eng.EnsureDefaults(context.Background()); err != nil {
		st.Close()
		return nil, err
	}

	logger.Info("core initialized",
		"database", cfg.Database.Path,
		"index_file", cfg.Embedding.IndexFile,
		"embeddings", eng.Embeddings(),
		"provider", cfg.Embedding.Provider)
	return &app{cfg: cfg, store: st, engine: eng, metrics: rec}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("store close failed", "error", err)
	}
}

func newEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKeyEnv: cfg.Embedding.APIKeyEnv,
			Model:     cfg.Embedding.ModelName,
			Dimension: cfg.Embedding.Dimension,
		})
	case "hash":
		return embedding.NewHashEmbedder(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func setupLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, nil
}
