package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/dshills/corpora/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// Storage defines the persistence capabilities used by ingestion and retrieval.
// Implementations must make UpsertFile and ReplaceSplits atomic.
type Storage interface {
	// Corpus operations
	CreateCorpus(ctx context.Context, corpus *types.Corpus) error
	GetCorpus(ctx context.Context, id uuid.UUID) (*types.Corpus, error)
	GetCorpusByName(ctx context.Context, owner, name string) (*types.Corpus, error)
	ListCorpora(ctx context.Context, owner string) ([]*types.Corpus, error)
	TouchCorpus(ctx context.Context, id uuid.UUID) error
	DeleteCorpus(ctx context.Context, id uuid.UUID) error

	// File operations
	UpsertFile(ctx context.Context, corpusID uuid.UUID, path, content, digest string) (*types.File, error)
	GetFile(ctx context.Context, id uuid.UUID) (*types.File, error)
	GetFileByPath(ctx context.Context, corpusID uuid.UUID, path string) (*types.File, error)
	ListFiles(ctx context.Context, corpusID uuid.UUID) ([]*types.File, error)
	ListFileHashes(ctx context.Context, corpusID uuid.UUID) (map[string]string, error)
	DeleteFilesByPath(ctx context.Context, corpusID uuid.UUID, paths []string) (int, error)
	// SetFileSummary and SetFileSummaryVector only write while the file still
	// has the given digest, otherwise they return ErrNotFound
	SetFileSummary(ctx context.Context, fileID uuid.UUID, digest, summary string) error
	SetFileSummaryVector(ctx context.Context, fileID uuid.UUID, digest string, vector []float32) error

	// Split operations
	DeleteSplitsForFile(ctx context.Context, fileID uuid.UUID) error
	CreateSplit(ctx context.Context, fileID uuid.UUID, order int, content string, metadata map[string]any) (*types.Split, error)
	ReplaceSplits(ctx context.Context, fileID uuid.UUID, splits []types.SplitInput) ([]*types.Split, error)
	GetSplit(ctx context.Context, id uuid.UUID) (*types.Split, error)
	ListSplits(ctx context.Context, fileID uuid.UUID) ([]*types.Split, error)
	CountSplits(ctx context.Context, fileID uuid.UUID) (int, error)
	SetSplitVector(ctx context.Context, splitID uuid.UUID, vector []float32) error

	// Search operations
	FilterSplitsWithVector(ctx context.Context, corpusID uuid.UUID) iter.Seq2[*types.Split, error]
	SearchSplits(ctx context.Context, corpusID uuid.UUID, vector []float32, limit int) ([]types.ScoredSplit, error)

	// Status operations
	GetStatus(ctx context.Context, corpusID uuid.UUID) (*types.CorpusStatus, error)

	// Database operations
	Close() error
}

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the Storage for driver. For sqlite dsn is a file path (or
// ":memory:"), for postgres a connection string.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Storage, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStorage(dsn, opts...)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Option configures a store
type Option func(*options)

type options struct {
	dimension int
}

// WithEmbeddingDimension types the Postgres vector columns as vector(N), which
// enables the HNSW index. SQLite ignores it.
func WithEmbeddingDimension(dim int) Option {
	return func(o *options) { o.dimension = dim }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validateFileInput(path, digest string) error {
	if path == "" {
		return types.ErrEmptyPath
	}
	return types.ValidateDigest(digest)
}

func validateSplitInputs(splits []types.SplitInput) error {
	seen := make(map[int]struct{}, len(splits))
	for _, in := range splits {
		if err := in.Validate(); err != nil {
			return err
		}
		if _, dup := seen[in.Order]; dup {
			return fmt.Errorf("duplicate split order %d: %w", in.Order, ErrAlreadyExists)
		}
		seen[in.Order] = struct{}{}
	}
	return nil
}
