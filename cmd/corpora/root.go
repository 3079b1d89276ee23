package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dshills/corpora/internal/chunker"
	"github.com/dshills/corpora/internal/collector"
	"github.com/dshills/corpora/internal/config"
	"github.com/dshills/corpora/internal/embedder"
	"github.com/dshills/corpora/internal/logging"
	"github.com/dshills/corpora/internal/pipeline"
	"github.com/dshills/corpora/internal/queue"
	"github.com/dshills/corpora/internal/retriever"
	"github.com/dshills/corpora/internal/storage"
	"github.com/dshills/corpora/pkg/types"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "corpora",
	Short: "Sync local files into searchable corpora",
	Long: `corpora uploads the files of a directory into a named corpus, splits and
embeds them in the background, and answers similarity queries against the
stored splits. The serve command exposes the same operations over MCP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./corpora.yaml or ~/.config/corpora/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}

// app holds the services every command is built from
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.Storage
	queue     queue.Queue
	port      embedder.Port
	pipeline  *pipeline.Pipeline
	retriever *retriever.Retriever
}

// openApp loads the configuration and wires storage, queue, embedder,
// pipeline and retriever. The caller must close the app.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	port, err := embedder.New(embedder.Config{
		Provider:          cfg.Embedding.Provider,
		Model:             cfg.Embedding.Model,
		SummaryModel:      cfg.Embedding.SummaryModel,
		APIKey:            cfg.Embedding.APIKey,
		BaseURL:           cfg.Embedding.BaseURL,
		CacheSize:         cfg.Embedding.CacheSize,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	dsn := cfg.DBPath()
	if cfg.Storage.Driver == storage.DriverPostgres {
		dsn = cfg.Storage.DSN
	}
	store, err := storage.Open(ctx, cfg.Storage.Driver, dsn, storage.WithEmbeddingDimension(port.Dimension()))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	qopts := []queue.Option{
		queue.WithLease(cfg.Pipeline.Lease),
		queue.WithDefaultMaxAttempts(cfg.Pipeline.MaxAttempts),
	}
	var q queue.Queue
	switch s := store.(type) {
	case *storage.SQLiteStorage:
		q = queue.NewSQLiteQueue(s.DB(), qopts...)
	case *storage.PostgresStorage:
		q = queue.NewPostgresQueue(s.Pool(), qopts...)
	default:
		_ = store.Close()
		return nil, fmt.Errorf("no job queue for storage %T", store)
	}

	p := pipeline.New(store, q, port,
		pipeline.WithLogger(logger),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithMaxAttempts(cfg.Pipeline.MaxAttempts),
		pipeline.WithBackoff(cfg.Pipeline.BaseDelay, cfg.Pipeline.MaxDelay),
		pipeline.WithPollInterval(cfg.Pipeline.PollInterval),
		pipeline.WithSummaries(cfg.Pipeline.Summarize),
		pipeline.WithMaxEntrySize(cfg.Pipeline.MaxEntrySize),
		pipeline.WithChunker(chunker.New(
			chunker.WithChunkSize(cfg.Chunker.ChunkSize),
			chunker.WithOverlap(cfg.Chunker.ChunkOverlap),
		)),
	)

	r := retriever.New(store, port,
		retriever.WithLogger(logger),
		retriever.WithLimits(cfg.Retrieval.DefaultLimit, cfg.Retrieval.MaxLimit),
	)

	logger.Debug("app ready",
		"driver", cfg.Storage.Driver,
		"sqlite_driver", storage.DriverName,
		"dimension", port.Dimension(),
		"owner", cfg.Owner)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		queue:     q,
		port:      port,
		pipeline:  p,
		retriever: r,
	}, nil
}

// Close releases the embedder and the store
func (a *app) Close() error {
	return errors.Join(a.port.Close(), a.store.Close())
}

// collectOptions limits local files to what the server accepts
func (a *app) collectOptions() collector.Options {
	return collector.Options{
		MaxFileSize: a.cfg.Pipeline.MaxEntrySize,
		Logger:      a.logger,
	}
}

// resolveCorpus accepts a corpus id or a name owned by the configured owner
func (a *app) resolveCorpus(ctx context.Context, ref string) (*types.Corpus, error) {
	var (
		corpus *types.Corpus
		err    error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		corpus, err = a.store.GetCorpus(ctx, id)
	} else {
		corpus, err = a.store.GetCorpusByName(ctx, a.cfg.Owner, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("corpus %q: %w", ref, err)
	}
	return corpus, nil
}

// withApp runs fn against an opened app
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.logger.Warn("close storage", "error", cerr)
		}
	}()
	return fn(ctx, a)
}
