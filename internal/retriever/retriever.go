// Package retriever answers semantic queries against a corpus.
//
// A query is embedded with the same port used at ingestion and compared with
// every embedded split of the corpus by cosine distance. Splits without a
// vector never appear in results. Equal distances are ordered by insertion
// sequence, so identical queries always return identical rankings.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/corpora/internal/embedder"
	"github.com/dshills/corpora/internal/logging"
	"github.com/dshills/corpora/internal/storage"
	"github.com/dshills/corpora/pkg/types"
)

// Limits
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Retriever ranks stored splits against a query
type Retriever struct {
	store        storage.Storage
	embedder     embedder.Embedder
	logger       *slog.Logger
	tracer       trace.Tracer
	defaultLimit int
	maxLimit     int
}

// Option configures a Retriever
type Option func(*Retriever)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.logger = logging.OrNop(l) }
}

// WithLimits overrides the default and maximum result counts
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(r *Retriever) {
		if defaultLimit > 0 {
			r.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			r.maxLimit = maxLimit
		}
	}
}

// New creates a Retriever. Only the embedding half of the port is used.
func New(store storage.Storage, e embedder.Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		store:        store,
		embedder:     e,
		logger:       logging.Nop(),
		tracer:       otel.Tracer("corpora/retriever"),
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaultLimit > r.maxLimit {
		r.defaultLimit = r.maxLimit
	}
	return r
}

// Retrieve returns up to limit splits of the corpus, best match first.
// A limit of zero or less selects the default limit and larger limits are
// capped. An empty query fails with embedder.ErrEmptyText and an unknown
// corpus with storage.ErrNotFound.
func (r *Retriever) Retrieve(ctx context.Context, corpusID uuid.UUID, query string, limit int) ([]types.ScoredSplit, error) {
	start := time.Now()
	limit = r.normalizeLimit(limit)

	ctx, span := r.tracer.Start(ctx, "retriever.Retrieve", trace.WithAttributes(
		attribute.String("corpus.id", corpusID.String()),
		attribute.Int("limit", limit)))
	defer span.End()

	results, err := r.retrieve(ctx, corpusID, query, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	r.logger.Debug("retrieved",
		"corpus_id", corpusID,
		"limit", limit,
		"results", len(results),
		"duration", time.Since(start))
	return results, nil
}

func (r *Retriever) retrieve(ctx context.Context, corpusID uuid.UUID, query string, limit int) ([]types.ScoredSplit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("invalid query: %w", embedder.ErrEmptyText)
	}
	if r.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}

	// Fail on unknown corpora before paying for an embedding
	if _, err := r.store.GetCorpus(ctx, corpusID); err != nil {
		return nil, fmt.Errorf("get corpus: %w", err)
	}

	vec, err := embedder.Embed(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	results, err := r.store.SearchSplits(ctx, corpusID, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search splits: %w", err)
	}
	return results, nil
}

// RetrieveContext formats the retrieved splits as fenced blocks headed by
// their file path, in rank order
func (r *Retriever) RetrieveContext(ctx context.Context, corpusID uuid.UUID, query string, limit int) (string, error) {
	results, err := r.Retrieve(ctx, corpusID, query, limit)
	if err != nil {
		return "", err
	}
	return FormatContext(results), nil
}

// FormatContext renders each hit as "\n\n{path}:\n```\n{content}\n```\n\n"
func FormatContext(results []types.ScoredSplit) string {
	var b strings.Builder
	for _, res := range results {
		b.WriteString("\n\n")
		b.WriteString(res.Path)
		b.WriteString(":\n```\n")
		b.WriteString(res.Split.Content)
		b.WriteString("\n```\n\n")
	}
	return b.String()
}

func (r *Retriever) normalizeLimit(limit int) int {
	if limit <= 0 {
		return r.defaultLimit
	}
	return min(limit, r.maxLimit)
}
