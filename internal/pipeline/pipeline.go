package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/corpora/internal/chunker"
	"github.com/dshills/corpora/internal/embedder"
	"github.com/dshills/corpora/internal/logging"
	"github.com/dshills/corpora/internal/queue"
	"github.com/dshills/corpora/internal/storage"
)

const instrumentationScope = "corpora/pipeline"

// Job kinds
const (
	KindIngestArchive = "ingest_archive"
	KindSplitFile     = "split_file"
	KindEmbedSplit    = "embed_split"
	KindSummarizeFile = "summarize_file"
)

// Defaults
const (
	DefaultWorkers      = 4
	DefaultBaseDelay    = time.Second
	DefaultMaxDelay     = 5 * time.Minute
	DefaultPollInterval = time.Second
)

type ingestPayload struct {
	CorpusID    uuid.UUID `json:"corpus_id"`
	Archive     []byte    `json:"archive,omitempty"`
	DeletePaths []string  `json:"delete_paths,omitempty"`
}

type filePayload struct {
	FileID uuid.UUID `json:"file_id"`
	Digest string    `json:"digest"`
}

type splitPayload struct {
	SplitID uuid.UUID `json:"split_id"`
}

// Stats counts job outcomes
type Stats struct {
	Completed int64
	Retried   int64
	Failed    int64
}

type handler func(ctx context.Context, job *queue.Job) error

// Pipeline runs ingestion jobs against a store
type Pipeline struct {
	store   storage.Storage
	queue   queue.Queue
	port    embedder.Port
	chunker *chunker.Chunker
	logger  *slog.Logger

	workers      int
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	pollInterval time.Duration
	summarize    bool
	maxEntrySize int64
	now          func() time.Time

	handlers map[string]handler
	running  runLock

	completed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64

	tracer        trace.Tracer
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	splitsDone    metric.Int64Counter
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.OrNop(l) }
}

// WithWorkers sets the number of concurrent workers
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMaxAttempts bounds the attempts of every job this pipeline enqueues.
// Zero keeps the queue's default.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the first retry delay and its cap
func WithBackoff(base, max time.Duration) Option {
	return func(p *Pipeline) {
		if base > 0 {
			p.baseDelay = base
		}
		if max > 0 {
			p.maxDelay = max
		}
	}
}

// WithPollInterval sets how long an idle worker waits before claiming again
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithSummaries enables summarize_file jobs
func WithSummaries(enabled bool) Option {
	return func(p *Pipeline) { p.summarize = enabled }
}

// WithChunker replaces the default chunker
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.chunker = c
		}
	}
}

// WithMaxEntrySize bounds the size of a single archive entry
func WithMaxEntrySize(n int64) Option {
	return func(p *Pipeline) { p.maxEntrySize = n }
}

// WithClock replaces time.Now when scheduling retries
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline
func New(store storage.Storage, q queue.Queue, port embedder.Port, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        store,
		queue:        q,
		port:         port,
		chunker:      chunker.New(),
		logger:       logging.Nop(),
		workers:      DefaultWorkers,
		baseDelay:    DefaultBaseDelay,
		maxDelay:     DefaultMaxDelay,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		tracer:       otel.Tracer(instrumentationScope),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.handlers = map[string]handler{
		KindIngestArchive: p.handleIngest,
		KindSplitFile:     p.handleSplit,
		KindEmbedSplit:    p.handleEmbed,
		KindSummarizeFile: p.handleSummarize,
	}

	meter := otel.Meter(instrumentationScope)
	// Counter creation only fails for invalid names
	p.jobsCompleted, _ = meter.Int64Counter("corpora.jobs.completed",
		metric.WithDescription("Jobs completed"),
		metric.WithUnit("{job}"))
	p.jobsFailed, _ = meter.Int64Counter("corpora.jobs.failed",
		metric.WithDescription("Jobs that exhausted their attempts or failed permanently"),
		metric.WithUnit("{job}"))
	p.splitsDone, _ = meter.Int64Counter("corpora.splits.embedded",
		metric.WithDescription("Split vectors stored"),
		metric.WithUnit("{split}"))

	return p
}

// Ingest schedules ingestion of a gzip-compressed tar archive into the corpus
// and returns the job id. Processing happens on the workers.
func (p *Pipeline) Ingest(ctx context.Context, corpusID uuid.UUID, archive []byte) (string, error) {
	return p.UpdateAndDelete(ctx, corpusID, archive, nil)
}

// UpdateAndDelete schedules ingestion of archive plus deletion of
// deletePaths. Either may be empty. When both are empty nothing is enqueued
// and the returned id is "".
func (p *Pipeline) UpdateAndDelete(ctx context.Context, corpusID uuid.UUID, archive []byte, deletePaths []string) (string, error) {
	if _, err := p.store.GetCorpus(ctx, corpusID); err != nil {
		return "", fmt.Errorf("get corpus: %w", err)
	}
	if len(archive) == 0 && len(deletePaths) == 0 {
		return "", nil
	}

	id, err := p.enqueue(ctx, KindIngestArchive, ingestPayload{
		CorpusID:    corpusID,
		Archive:     archive,
		DeletePaths: deletePaths,
	})
	if err != nil {
		return "", err
	}
	p.logger.Info("ingestion scheduled",
		"job_id", id,
		"corpus_id", corpusID,
		"archive_bytes", len(archive),
		"delete_paths", len(deletePaths))
	return id, nil
}

// Stats returns the outcome counters accumulated since New
func (p *Pipeline) Stats() Stats {
	return Stats{
		Completed: p.completed.Load(),
		Retried:   p.retried.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pipeline) enqueue(ctx context.Context, kind string, payload any) (string, error) {
	var opts []queue.EnqueueOption
	if p.maxAttempts > 0 {
		opts = append(opts, queue.WithMaxAttempts(p.maxAttempts))
	}
	id, err := p.queue.Enqueue(ctx, kind, payload, opts...)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return id, nil
}

// backoff returns the delay before the next attempt. attempt counts from 1.
func (p *Pipeline) backoff(attempt int) time.Duration {
	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxDelay {
			return p.maxDelay
		}
	}
	return min(delay, p.maxDelay)
}

// superseded reports whether err means the job's target is gone
func superseded(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
