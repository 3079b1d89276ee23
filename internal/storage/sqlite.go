package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/corpora/pkg/types"
)

// deleteBatchSize keeps IN (...) lists under SQLite's variable limit
const deleteBatchSize = 500

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
	// vectorSQL is set when vec_distance_cosine is callable
	vectorSQL bool
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, vectorSQL: probeVectorExtension(db)}, nil
}

// probeVectorExtension reports whether the sqlite-vec functions are loaded
func probeVectorExtension(db *sql.DB) bool {
	if !VectorExtensionAvailable {
		return false
	}
	var version string
	return db.QueryRow("SELECT vec_version()").Scan(&version) == nil
}

// DB exposes the underlying handle so the job queue can share the database
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction, committing when it returns nil
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Corpus operations

// CreateCorpus inserts a corpus, assigning its ID and timestamps
func (s *SQLiteStorage) CreateCorpus(ctx context.Context, corpus *types.Corpus) error {
	if err := corpus.Validate(); err != nil {
		return err
	}
	if corpus.ID == uuid.Nil {
		corpus.ID = uuid.New()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corpora (id, name, url, owner, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, corpus.ID.String(), corpus.Name, corpus.URL, corpus.Owner, now, now)
	if isUniqueViolation(err) {
		return fmt.Errorf("corpus %s/%s: %w", corpus.Owner, corpus.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create corpus: %w", err)
	}

	corpus.CreatedAt = now
	corpus.UpdatedAt = now
	return nil
}

const corpusColumns = `id, name, url, owner, created_at, updated_at`

func scanCorpus(row interface{ Scan(...any) error }) (*types.Corpus, error) {
	var c types.Corpus
	var id string
	if err := row.Scan(&id, &c.Name, &c.URL, &c.Owner, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid corpus id %q: %w", id, err)
	}
	c.ID = parsed
	return &c, nil
}

// GetCorpus retrieves a corpus by ID
func (s *SQLiteStorage) GetCorpus(ctx context.Context, id uuid.UUID) (*types.Corpus, error) {
	return getCorpus(ctx, s.db, id)
}

func getCorpus(ctx context.Context, q querier, id uuid.UUID) (*types.Corpus, error) {
	row := q.QueryRowContext(ctx, `SELECT `+corpusColumns+` FROM corpora WHERE id = ?`, id.String())
	c, err := scanCorpus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("corpus %s: %w", id, ErrNotFound)
	}
	return c, err
}

// GetCorpusByName retrieves a corpus by its (owner, name) key
func (s *SQLiteStorage) GetCorpusByName(ctx context.Context, owner, name string) (*types.Corpus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+corpusColumns+` FROM corpora WHERE owner = ? AND name = ?`, owner, name)
	c, err := scanCorpus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("corpus %s/%s: %w", owner, name, ErrNotFound)
	}
	return c, err
}

// ListCorpora lists the corpora of owner ordered by name. An empty owner lists all.
func (s *SQLiteStorage) ListCorpora(ctx context.Context, owner string) ([]*types.Corpus, error) {
	query := `SELECT ` + corpusColumns + ` FROM corpora`
	var args []interface{}
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY name, owner`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list corpora: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var corpora []*types.Corpus
	for rows.Next() {
		c, err := scanCorpus(rows)
		if err != nil {
			return nil, err
		}
		corpora = append(corpora, c)
	}
	return corpora, rows.Err()
}

// TouchCorpus bumps the corpus update timestamp
func (s *SQLiteStorage) TouchCorpus(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE corpora SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to touch corpus: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("corpus %s", id))
}

// DeleteCorpus removes a corpus; files and splits go with it
func (s *SQLiteStorage) DeleteCorpus(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM corpora WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete corpus: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("corpus %s", id))
}

func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// File operations

// UpsertFile creates or replaces the file at (corpus, path) and deletes its
// splits in the same transaction. The summary survives only when the digest
// is unchanged.
func (s *SQLiteStorage) UpsertFile(ctx context.Context, corpusID uuid.UUID, path, content, digest string) (*types.File, error) {
	if err := validateFileInput(path, digest); err != nil {
		return nil, err
	}

	var file *types.File
	err := s.withTx(ctx, func(q querier) error {
		if _, err := getCorpus(ctx, q, corpusID); err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err := q.ExecContext(ctx, `
			INSERT INTO files (id, corpus_id, path, content, digest, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(corpus_id, path) DO UPDATE SET
				content = excluded.content,
				summary = CASE WHEN files.digest = excluded.digest THEN files.summary ELSE '' END,
				summary_vector = CASE WHEN files.digest = excluded.digest THEN files.summary_vector ELSE NULL END,
				digest = excluded.digest,
				updated_at = excluded.updated_at
		`, uuid.New().String(), corpusID.String(), path, content, digest, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert file: %w", err)
		}

		file, err = getFileByPath(ctx, q, corpusID, path)
		if err != nil {
			return err
		}
		return deleteSplitsForFile(ctx, q, file.ID)
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

const fileColumns = `id, corpus_id, path, content, digest, summary, summary_vector, created_at, updated_at`

func scanFile(row interface{ Scan(...any) error }) (*types.File, error) {
	var f types.File
	var id, corpusID string
	var vector []byte
	if err := row.Scan(&id, &corpusID, &f.Path, &f.Content, &f.Digest, &f.Summary, &vector, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if f.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid file id %q: %w", id, err)
	}
	if f.CorpusID, err = uuid.Parse(corpusID); err != nil {
		return nil, fmt.Errorf("invalid corpus id %q: %w", corpusID, err)
	}
	if len(vector) > 0 {
		f.SummaryVector = deserializeVector(vector)
	}
	return &f, nil
}

// GetFile retrieves a file by ID
func (s *SQLiteStorage) GetFile(ctx context.Context, id uuid.UUID) (*types.File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id.String())
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return f, err
}

// GetFileByPath retrieves a file by its (corpus, path) key
func (s *SQLiteStorage) GetFileByPath(ctx context.Context, corpusID uuid.UUID, path string) (*types.File, error) {
	return getFileByPath(ctx, s.db, corpusID, path)
}

func getFileByPath(ctx context.Context, q querier, corpusID uuid.UUID, path string) (*types.File, error) {
	row := q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE corpus_id = ? AND path = ?`, corpusID.String(), path)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	return f, err
}

// ListFiles lists the files of a corpus ordered by path
func (s *SQLiteStorage) ListFiles(ctx context.Context, corpusID uuid.UUID) ([]*types.File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE corpus_id = ? ORDER BY path`, corpusID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*types.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListFileHashes returns path -> digest for every file of the corpus
func (s *SQLiteStorage) ListFileHashes(ctx context.Context, corpusID uuid.UUID) (map[string]string, error) {
	if _, err := getCorpus(ctx, s.db, corpusID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, digest FROM files WHERE corpus_id = ?`, corpusID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list file hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// DeleteFilesByPath deletes the named files of a corpus and returns how many
// existed. Unknown paths are ignored.
func (s *SQLiteStorage) DeleteFilesByPath(ctx context.Context, corpusID uuid.UUID, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	deleted := 0
	err := s.withTx(ctx, func(q querier) error {
		for start := 0; start < len(paths); start += deleteBatchSize {
			batch := paths[start:min(start+deleteBatchSize, len(paths))]
			args := make([]interface{}, 0, len(batch)+1)
			args = append(args, corpusID.String())
			for _, p := range batch {
				args = append(args, p)
			}
			query := `DELETE FROM files WHERE corpus_id = ? AND path IN (` + placeholders(len(batch)) + `)`
			res, err := q.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("failed to delete files: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			deleted += int(n)
		}
		return nil
	})
	return deleted, err
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// SetFileSummary stores the summary text of a file
func (s *SQLiteStorage) SetFileSummary(ctx context.Context, fileID uuid.UUID, digest, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE files SET summary = ? WHERE id = ? AND digest = ?`, summary, fileID.String(), digest)
	if err != nil {
		return fmt.Errorf("failed to set summary: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("file %s at %s", fileID, digest))
}

// SetFileSummaryVector stores the embedding of a file's summary
func (s *SQLiteStorage) SetFileSummaryVector(ctx context.Context, fileID uuid.UUID, digest string, vector []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE files SET summary_vector = ? WHERE id = ? AND digest = ?`, serializeVector(vector), fileID.String(), digest)
	if err != nil {
		return fmt.Errorf("failed to set summary vector: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("file %s", fileID))
}

// Split operations

// DeleteSplitsForFile removes every split of a file
func (s *SQLiteStorage) DeleteSplitsForFile(ctx context.Context, fileID uuid.UUID) error {
	return deleteSplitsForFile(ctx, s.db, fileID)
}

func deleteSplitsForFile(ctx context.Context, q querier, fileID uuid.UUID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM splits WHERE file_id = ?`, fileID.String()); err != nil {
		return fmt.Errorf("failed to delete splits: %w", err)
	}
	return nil
}

// CreateSplit inserts one split. A second split with the same order fails
// with ErrAlreadyExists.
func (s *SQLiteStorage) CreateSplit(ctx context.Context, fileID uuid.UUID, order int, content string, metadata map[string]any) (*types.Split, error) {
	in := types.SplitInput{Order: order, Content: content, Metadata: metadata}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return createSplit(ctx, s.db, fileID, in)
}

func createSplit(ctx context.Context, q querier, fileID uuid.UUID, in types.SplitInput) (*types.Split, error) {
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

	res, err := q.ExecContext(ctx, `
		INSERT INTO splits (id, file_id, split_order, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, split.ID.String(), fileID.String(), in.Order, in.Content, meta, split.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("split %d of file %s: %w", in.Order, fileID, ErrAlreadyExists)
	}
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create split: %w", err)
	}

	if split.Seq, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return split, nil
}

// ReplaceSplits deletes the file's splits and creates the given ones in a
// single transaction
func (s *SQLiteStorage) ReplaceSplits(ctx context.Context, fileID uuid.UUID, inputs []types.SplitInput) ([]*types.Split, error) {
	if err := validateSplitInputs(inputs); err != nil {
		return nil, err
	}

	splits := make([]*types.Split, 0, len(inputs))
	err := s.withTx(ctx, func(q querier) error {
		var exists int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM files WHERE id = ?`, fileID.String()).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("file %s: %w", fileID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		if err := deleteSplitsForFile(ctx, q, fileID); err != nil {
			return err
		}
		for _, in := range inputs {
			split, err := createSplit(ctx, q, fileID, in)
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

const splitColumns = `s.seq, s.id, s.file_id, s.split_order, s.content, s.vector, s.metadata, s.created_at`

func scanSplit(row interface{ Scan(...any) error }, extra ...any) (*types.Split, error) {
	var sp types.Split
	var id, fileID, meta string
	var vector []byte
	dest := append([]any{&sp.Seq, &id, &fileID, &sp.Order, &sp.Content, &vector, &meta, &sp.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if sp.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid split id %q: %w", id, err)
	}
	if sp.FileID, err = uuid.Parse(fileID); err != nil {
		return nil, fmt.Errorf("invalid file id %q: %w", fileID, err)
	}
	if len(vector) > 0 {
		sp.Vector = deserializeVector(vector)
	}
	if sp.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return &sp, nil
}

// GetSplit retrieves a split by ID
func (s *SQLiteStorage) GetSplit(ctx context.Context, id uuid.UUID) (*types.Split, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+splitColumns+` FROM splits s WHERE s.id = ?`, id.String())
	sp, err := scanSplit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("split %s: %w", id, ErrNotFound)
	}
	return sp, err
}

// ListSplits lists the splits of a file in order
func (s *SQLiteStorage) ListSplits(ctx context.Context, fileID uuid.UUID) ([]*types.Split, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+splitColumns+` FROM splits s WHERE s.file_id = ? ORDER BY s.split_order`, fileID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list splits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var splits []*types.Split
	for rows.Next() {
		sp, err := scanSplit(rows)
		if err != nil {
			return nil, err
		}
		splits = append(splits, sp)
	}
	return splits, rows.Err()
}

// CountSplits returns the number of splits of a file
func (s *SQLiteStorage) CountSplits(ctx context.Context, fileID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM splits WHERE file_id = ?`, fileID.String()).Scan(&n)
	return n, err
}

// SetSplitVector stores the embedding of a split. Vectors are written once
// per split; a second write fails with ErrAlreadyExists.
func (s *SQLiteStorage) SetSplitVector(ctx context.Context, splitID uuid.UUID, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for split %s", splitID)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE splits SET vector = ? WHERE id = ? AND vector IS NULL`, serializeVector(vector), splitID.String())
	if err != nil {
		return fmt.Errorf("failed to set split vector: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetSplit(ctx, splitID); err != nil {
		return err
	}
	return fmt.Errorf("vector of split %s: %w", splitID, ErrAlreadyExists)
}

// FilterSplitsWithVector yields every split of the corpus that has a vector,
// in insertion order. The rows are buffered so the single connection is free
// while the caller consumes the sequence.
func (s *SQLiteStorage) FilterSplitsWithVector(ctx context.Context, corpusID uuid.UUID) iter.Seq2[*types.Split, error] {
	return func(yield func(*types.Split, error) bool) {
		cands, err := s.vectorCandidates(ctx, corpusID)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, c := range cands {
			if !yield(c.split, nil) {
				return
			}
		}
	}
}

// vectorCandidates loads every embedded split of a corpus with its file path
func (s *SQLiteStorage) vectorCandidates(ctx context.Context, corpusID uuid.UUID) ([]candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+splitColumns+`, f.path
		FROM splits s
		INNER JOIN files f ON s.file_id = f.id
		WHERE f.corpus_id = ? AND s.vector IS NOT NULL
		ORDER BY s.seq
	`, corpusID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cands []candidate
	for rows.Next() {
		var path string
		sp, err := scanSplit(rows, &path)
		if err != nil {
			return nil, err
		}
		cands = append(cands, candidate{split: sp, path: path})
	}
	return cands, rows.Err()
}

// SearchSplits ranks the corpus's embedded splits by cosine distance to vector
func (s *SQLiteStorage) SearchSplits(ctx context.Context, corpusID uuid.UUID, vector []float32, limit int) ([]types.ScoredSplit, error) {
	if limit <= 0 || len(vector) == 0 {
		return []types.ScoredSplit{}, nil
	}
	if _, err := getCorpus(ctx, s.db, corpusID); err != nil {
		return nil, err
	}

	if s.vectorSQL {
		return s.searchSplitsSQL(ctx, corpusID, vector, limit)
	}

	cands, err := s.vectorCandidates(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	return rankCandidates(cands, vector, limit), nil
}

// searchSplitsSQL computes distances with sqlite-vec and lets SQL order and
// limit. Distances are quantized the same way as the Go path.
func (s *SQLiteStorage) searchSplitsSQL(ctx context.Context, corpusID uuid.UUID, vector []float32, limit int) ([]types.ScoredSplit, error) {
	blob := serializeVector(vector)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+splitColumns+`, f.path, vec_distance_cosine(s.vector, ?) AS distance
		FROM splits s
		INNER JOIN files f ON s.file_id = f.id
		WHERE f.corpus_id = ? AND s.vector IS NOT NULL AND length(s.vector) = ?
		ORDER BY distance, s.seq
		LIMIT ?
	`, blob, corpusID.String(), len(blob), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cands []candidate
	for rows.Next() {
		var c candidate
		sp, err := scanSplit(rows, &c.path, &c.distance)
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

// GetStatus counts the stored state of a corpus
func (s *SQLiteStorage) GetStatus(ctx context.Context, corpusID uuid.UUID) (*types.CorpusStatus, error) {
	corpus, err := getCorpus(ctx, s.db, corpusID)
	if err != nil {
		return nil, err
	}

	status := &types.CorpusStatus{Corpus: corpus, LastUpdatedAt: corpus.UpdatedAt}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN summary != '' THEN 1 ELSE 0 END), 0)
		FROM files WHERE corpus_id = ?
	`, corpusID.String()).Scan(&status.FilesCount, &status.SummariesCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN s.vector IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM splits s INNER JOIN files f ON s.file_id = f.id
		WHERE f.corpus_id = ?
	`, corpusID.String()).Scan(&status.SplitsCount, &status.VectorsCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count splits: %w", err)
	}

	status.PendingVectors = status.SplitsCount - status.VectorsCount
	return status, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode split metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to decode split metadata: %w", err)
	}
	return m, nil
}
