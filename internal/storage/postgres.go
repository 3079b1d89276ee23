package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/dshills/corpora/pkg/types"
)

// PostgresStorage implements Storage on PostgreSQL with pgvector. Ranking
// uses the <=> cosine distance operator, backed by an HNSW index when the
// embedding dimension is configured.
type PostgresStorage struct {
	pool  *pgxpool.Pool
	owned bool
	opts  options
}

var _ Storage = (*PostgresStorage)(nil)

// pgQuerier is implemented by both *pgxpool.Pool and pgx.Tx
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStorage uses an existing pool and applies migrations. The caller
// owns the pool.
func NewPostgresStorage(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*PostgresStorage, error) {
	s := &PostgresStorage{pool: pool, opts: buildOptions(opts)}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return s, nil
}

// OpenPostgres connects to dsn; Close releases the pool
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	s, err := NewPostgresStorage(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Pool exposes the connection pool so the job queue can share it
func (s *PostgresStorage) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the pool when the store opened it
func (s *PostgresStorage) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

// postgresMigrations mirrors AllMigrations for PostgreSQL
func postgresMigrations(dim int) []Migration {
	vtype := "vector"
	vectorIndex := ""
	if dim > 0 {
		vtype = fmt.Sprintf("vector(%d)", dim)
		// HNSW needs a typed column
		vectorIndex = `CREATE INDEX IF NOT EXISTS splits_vector_idx ON splits USING hnsw (vector vector_cosine_ops);`
	}

	return []Migration{
		{
			Version: "1.0.0",
			Up: fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS corpora (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    owner TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE(owner, name)
);

CREATE TABLE IF NOT EXISTS files (
    id UUID PRIMARY KEY,
    corpus_id UUID NOT NULL REFERENCES corpora(id) ON DELETE CASCADE,
    path TEXT NOT NULL,
    content TEXT NOT NULL,
    digest TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    summary_vector %[1]s,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE(corpus_id, path)
);

CREATE TABLE IF NOT EXISTS splits (
    seq BIGSERIAL PRIMARY KEY,
    id UUID NOT NULL UNIQUE,
    file_id UUID NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    split_order INTEGER NOT NULL CHECK (split_order >= 0),
    content TEXT NOT NULL,
    vector %[1]s,
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE(file_id, split_order)
);

CREATE INDEX IF NOT EXISTS splits_file_idx ON splits(file_id);
%[2]s
`, vtype, vectorIndex),
			Down: `DROP TABLE IF EXISTS splits; DROP TABLE IF EXISTS files; DROP TABLE IF EXISTS corpora;`,
		},
		{
			Version: "1.1.0",
			Up: `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    payload BYTEA NOT NULL,
    state TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    run_at BIGINT NOT NULL,
    lease_until BIGINT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs(state, run_at);
`,
			Down: `DROP TABLE IF EXISTS jobs;`,
		},
	}
}

func (s *PostgresStorage) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ DEFAULT now()
	)`); err != nil {
		return err
	}

	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}
	current, err := maxVersion(versions)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations(current, postgresMigrations(s.opts.dimension))
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := s.withTx(ctx, func(q pgQuerier) error {
			if _, err := q.Exec(ctx, m.Up); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
			}
			_, err := q.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.Version)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration
func (s *PostgresStorage) SchemaVersion(ctx context.Context) (*semver.Version, error) {
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return maxVersion(versions)
}

func (s *PostgresStorage) withTx(ctx context.Context, fn func(q pgQuerier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgNotFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// Corpus operations

func (s *PostgresStorage) CreateCorpus(ctx context.Context, corpus *types.Corpus) error {
	if err := corpus.Validate(); err != nil {
		return err
	}
	if corpus.ID == uuid.Nil {
		corpus.ID = uuid.New()
	}
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO corpora (id, name, url, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, corpus.ID, corpus.Name, corpus.URL, corpus.Owner, now, now)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("corpus %s/%s: %w", corpus.Owner, corpus.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: create corpus: %w", err)
	}
	corpus.CreatedAt = now
	corpus.UpdatedAt = now
	return nil
}

func (s *PostgresStorage) GetCorpus(ctx context.Context, id uuid.UUID) (*types.Corpus, error) {
	return pgGetCorpus(ctx, s.pool, id)
}

func pgGetCorpus(ctx context.Context, q pgQuerier, id uuid.UUID) (*types.Corpus, error) {
	c, err := scanCorpusPG(q.QueryRow(ctx, `SELECT `+corpusColumns+` FROM corpora WHERE id = $1`, id))
	return c, pgNotFound(err, fmt.Sprintf("corpus %s", id))
}

func scanCorpusPG(row pgx.Row) (*types.Corpus, error) {
	var c types.Corpus
	if err := row.Scan(&c.ID, &c.Name, &c.URL, &c.Owner, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStorage) GetCorpusByName(ctx context.Context, owner, name string) (*types.Corpus, error) {
	c, err := scanCorpusPG(s.pool.QueryRow(ctx, `SELECT `+corpusColumns+` FROM corpora WHERE owner = $1 AND name = $2`, owner, name))
	return c, pgNotFound(err, fmt.Sprintf("corpus %s/%s", owner, name))
}

func (s *PostgresStorage) ListCorpora(ctx context.Context, owner string) ([]*types.Corpus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+corpusColumns+` FROM corpora
		WHERE $1 = '' OR owner = $1
		ORDER BY name, owner
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list corpora: %w", err)
	}
	defer rows.Close()

	var corpora []*types.Corpus
	for rows.Next() {
		c, err := scanCorpusPG(rows)
		if err != nil {
			return nil, err
		}
		corpora = append(corpora, c)
	}
	return corpora, rows.Err()
}

func (s *PostgresStorage) TouchCorpus(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE corpora SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	return pgAffected(tag, err, fmt.Sprintf("corpus %s", id))
}

func (s *PostgresStorage) DeleteCorpus(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM corpora WHERE id = $1`, id)
	return pgAffected(tag, err, fmt.Sprintf("corpus %s", id))
}

func pgAffected(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// File operations

const pgFileColumns = `id, corpus_id, path, content, digest, summary, summary_vector::real[], created_at, updated_at`

func scanFilePG(row pgx.Row) (*types.File, error) {
	var f types.File
	if err := row.Scan(&f.ID, &f.CorpusID, &f.Path, &f.Content, &f.Digest, &f.Summary, &f.SummaryVector, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStorage) UpsertFile(ctx context.Context, corpusID uuid.UUID, path, content, digest string) (*types.File, error) {
	if err := validateFileInput(path, digest); err != nil {
		return nil, err
	}

	var file *types.File
	err := s.withTx(ctx, func(q pgQuerier) error {
		if _, err := pgGetCorpus(ctx, q, corpusID); err != nil {
			return err
		}

		now := time.Now().UTC()
		row := q.QueryRow(ctx, `
			INSERT INTO files (id, corpus_id, path, content, digest, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (corpus_id, path) DO UPDATE SET
				content = EXCLUDED.content,
				summary = CASE WHEN files.digest = EXCLUDED.digest THEN files.summary ELSE '' END,
				summary_vector = CASE WHEN files.digest = EXCLUDED.digest THEN files.summary_vector ELSE NULL END,
				digest = EXCLUDED.digest,
				updated_at = EXCLUDED.updated_at
			RETURNING `+pgFileColumns,
			uuid.New(), corpusID, path, content, digest, now)
		var err error
		if file, err = scanFilePG(row); err != nil {
			return fmt.Errorf("postgres: upsert file: %w", err)
		}
		_, err = q.Exec(ctx, `DELETE FROM splits WHERE file_id = $1`, file.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *PostgresStorage) GetFile(ctx context.Context, id uuid.UUID) (*types.File, error) {
	f, err := scanFilePG(s.pool.QueryRow(ctx, `SELECT `+pgFileColumns+` FROM files WHERE id = $1`, id))
	return f, pgNotFound(err, fmt.Sprintf("file %s", id))
}

func (s *PostgresStorage) GetFileByPath(ctx context.Context, corpusID uuid.UUID, path string) (*types.File, error) {
	f, err := scanFilePG(s.pool.QueryRow(ctx, `SELECT `+pgFileColumns+` FROM files WHERE corpus_id = $1 AND path = $2`, corpusID, path))
	return f, pgNotFound(err, fmt.Sprintf("file %s", path))
}

func (s *PostgresStorage) ListFiles(ctx context.Context, corpusID uuid.UUID) ([]*types.File, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgFileColumns+` FROM files WHERE corpus_id = $1 ORDER BY path`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list files: %w", err)
	}
	defer rows.Close()

	var files []*types.File
	for rows.Next() {
		f, err := scanFilePG(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *PostgresStorage) ListFileHashes(ctx context.Context, corpusID uuid.UUID) (map[string]string, error) {
	if _, err := s.GetCorpus(ctx, corpusID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT path, digest FROM files WHERE corpus_id = $1`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list file hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, digest string
		if err := rows.Scan(&path, &digest); err != nil {
			return nil, err
		}
		hashes[path] = digest
	}
	return hashes, rows.Err()
}

func (s *PostgresStorage) DeleteFilesByPath(ctx context.Context, corpusID uuid.UUID, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM files WHERE corpus_id = $1 AND path = ANY($2)`, corpusID, paths)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete files: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStorage) SetFileSummary(ctx context.Context, fileID uuid.UUID, digest, summary string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE files SET summary = $1 WHERE id = $2 AND digest = $3`, summary, fileID, digest)
	return pgAffected(tag, err, fmt.Sprintf("file %s", fileID))
}

func (s *PostgresStorage) SetFileSummaryVector(ctx context.Context, fileID uuid.UUID, digest string, vector []float32) error {
	tag, err := s.pool.Exec(ctx, `UPDATE files SET summary_vector = $1::vector WHERE id = $2 AND digest = $3`, pgvector.NewVector(vector), fileID, digest)
	return pgAffected(tag, err, fmt.Sprintf("file %s", fileID))
}

// Split operations

const pgSplitColumns = `s.seq, s.id, s.file_id, s.split_order, s.content, s.vector::real[], s.metadata::text, s.created_at`

func scanSplitPG(row pgx.Row, extra ...any) (*types.Split, error) {
	var sp types.Split
	var meta string
	dest := append([]any{&sp.Seq, &sp.ID, &sp.FileID, &sp.Order, &sp.Content, &sp.Vector, &meta, &sp.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if sp.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return &sp, nil
}

func (s *PostgresStorage) DeleteSplitsForFile(ctx context.Context, fileID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM splits WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("postgres: delete splits: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CreateSplit(ctx context.Context, fileID uuid.UUID, order int, content string, metadata map[string]any) (*types.Split, error) {
	in := types.SplitInput{Order: order, Content: content, Metadata: metadata}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return pgCreateSplit(ctx, s.pool, fileID, in)
}

func pgCreateSplit(ctx context.Context, q pgQuerier, fileID uuid.UUID, in types.SplitInput) (*types.Split, error) {
	meta, err := encodeMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}
	split := &types.Split{
		ID:        uuid.New(),
		FileID:    fileID,
		Order:     in.Order,
		Content:   in.Content,
		Metadata:  in.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	err = q.QueryRow(ctx, `
		INSERT INTO splits (id, file_id, split_order, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING seq
	`, split.ID, fileID, in.Order, in.Content, meta, split.CreatedAt).Scan(&split.Seq)
	switch pgCode(err) {
	case "":
	case pgUniqueViolation:
		return nil, fmt.Errorf("split %d of file %s: %w", in.Order, fileID, ErrAlreadyExists)
	case pgForeignKeyViolation:
		return nil, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: create split: %w", err)
	}
	return split, nil
}

func (s *PostgresStorage) ReplaceSplits(ctx context.Context, fileID uuid.UUID, inputs []types.SplitInput) ([]*types.Split, error) {
	if err := validateSplitInputs(inputs); err != nil {
		return nil, err
	}

	splits := make([]*types.Split, 0, len(inputs))
	err := s.withTx(ctx, func(q pgQuerier) error {
		// Lock the file row so concurrent replacements serialize
		var id uuid.UUID
		err := q.QueryRow(ctx, `SELECT id FROM files WHERE id = $1 FOR UPDATE`, fileID).Scan(&id)
		if err != nil {
			return pgNotFound(err, fmt.Sprintf("file %s", fileID))
		}
		if _, err := q.Exec(ctx, `DELETE FROM splits WHERE file_id = $1`, fileID); err != nil {
			return err
		}
		for _, in := range inputs {
			split, err := pgCreateSplit(ctx, q, fileID, in)
			if err != nil {
				return err
			}
			splits = append(splits, split)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return splits, nil
}

func (s *PostgresStorage) GetSplit(ctx context.Context, id uuid.UUID) (*types.Split, error) {
	sp, err := scanSplitPG(s.pool.QueryRow(ctx, `SELECT `+pgSplitColumns+` FROM splits s WHERE s.id = $1`, id))
	return sp, pgNotFound(err, fmt.Sprintf("split %s", id))
}

func (s *PostgresStorage) ListSplits(ctx context.Context, fileID uuid.UUID) ([]*types.Split, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgSplitColumns+` FROM splits s WHERE s.file_id = $1 ORDER BY s.split_order`, fileID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list splits: %w", err)
	}
	defer rows.Close()

	var splits []*types.Split
	for rows.Next() {
		sp, err := scanSplitPG(rows)
		if err != nil {
			return nil, err
		}
		splits = append(splits, sp)
	}
	return splits, rows.Err()
}

func (s *PostgresStorage) CountSplits(ctx context.Context, fileID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM splits WHERE file_id = $1`, fileID).Scan(&n)
	return n, err
}

func (s *PostgresStorage) SetSplitVector(ctx context.Context, splitID uuid.UUID, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for split %s", splitID)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE splits SET vector = $1::vector WHERE id = $2 AND vector IS NULL`, pgvector.NewVector(vector), splitID)
	if err != nil {
		return fmt.Errorf("postgres: set split vector: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetSplit(ctx, splitID); err != nil {
		return err
	}
	return fmt.Errorf("vector of split %s: %w", splitID, ErrAlreadyExists)
}

func (s *PostgresStorage) FilterSplitsWithVector(ctx context.Context, corpusID uuid.UUID) iter.Seq2[*types.Split, error] {
	return func(yield func(*types.Split, error) bool) {
		rows, err := s.pool.Query(ctx, `
			SELECT `+pgSplitColumns+`
			FROM splits s INNER JOIN files f ON s.file_id = f.id
			WHERE f.corpus_id = $1 AND s.vector IS NOT NULL
			ORDER BY s.seq
		`, corpusID)
		if err != nil {
			yield(nil, fmt.Errorf("postgres: filter splits: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			sp, err := scanSplitPG(rows)
			if !yield(sp, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// SearchSplits orders by pgvector distance in SQL, then quantizes and
// re-sorts so ties break on insertion sequence exactly as in SQLite
func (s *PostgresStorage) SearchSplits(ctx context.Context, corpusID uuid.UUID, vector []float32, limit int) ([]types.ScoredSplit, error) {
	if limit <= 0 || len(vector) == 0 {
		return []types.ScoredSplit{}, nil
	}
	if _, err := s.GetCorpus(ctx, corpusID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+pgSplitColumns+`, f.path, s.vector <=> $2::vector AS distance
		FROM splits s INNER JOIN files f ON s.file_id = f.id
		WHERE f.corpus_id = $1 AND s.vector IS NOT NULL AND vector_dims(s.vector) = $3
		ORDER BY distance, s.seq
		LIMIT $4
	`, corpusID, pgvector.NewVector(vector), len(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search splits: %w", err)
	}
	defer rows.Close()

	var cands []candidate
	for rows.Next() {
		var c candidate
		sp, err := scanSplitPG(rows, &c.path, &c.distance)
		if err != nil {
			return nil, err
		}
		c.split = sp
		c.distance = quantize(c.distance)
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortCandidates(cands)
	return buildResults(cands, limit), nil
}

func (s *PostgresStorage) GetStatus(ctx context.Context, corpusID uuid.UUID) (*types.CorpusStatus, error) {
	corpus, err := s.GetCorpus(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	status := &types.CorpusStatus{Corpus: corpus, LastUpdatedAt: corpus.UpdatedAt}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE summary <> '')
		FROM files WHERE corpus_id = $1
	`, corpusID).Scan(&status.FilesCount, &status.SummariesCount)
	if err != nil {
		return nil, fmt.Errorf("postgres: count files: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(s.vector)
		FROM splits s INNER JOIN files f ON s.file_id = f.id
		WHERE f.corpus_id = $1
	`, corpusID).Scan(&status.SplitsCount, &status.VectorsCount)
	if err != nil {
		return nil, fmt.Errorf("postgres: count splits: %w", err)
	}

	status.PendingVectors = status.SplitsCount - status.VectorsCount
	return status, nil
}
