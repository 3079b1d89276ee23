package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/corpora/internal/digest"
	"github.com/dshills/corpora/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func createTestCorpus(t *testing.T, s Storage, name string) *types.Corpus {
	t.Helper()
	corpus := &types.Corpus{Name: name, Owner: "alice"}
	require.NoError(t, s.CreateCorpus(context.Background(), corpus))
	return corpus
}

func upsertTestFile(t *testing.T, s Storage, corpusID uuid.UUID, path, content string) *types.File {
	t.Helper()
	file, err := s.UpsertFile(context.Background(), corpusID, path, content, digest.HashString(content))
	require.NoError(t, err)
	return file
}

func filled(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.DB())

	version, err := CurrentVersion(context.Background(), storage.DB())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version.String())
}

func TestCreateCorpus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	corpus := &types.Corpus{Name: "docs", URL: "https://example.com/docs.git", Owner: "alice"}
	require.NoError(t, storage.CreateCorpus(ctx, corpus))
	assert.NotEqual(t, uuid.Nil, corpus.ID)
	assert.False(t, corpus.CreatedAt.IsZero())

	// Same (owner, name) is a conflict
	err := storage.CreateCorpus(ctx, &types.Corpus{Name: "docs", Owner: "alice"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Same name for another owner is fine
	require.NoError(t, storage.CreateCorpus(ctx, &types.Corpus{Name: "docs", Owner: "bob"}))

	assert.ErrorIs(t, storage.CreateCorpus(ctx, &types.Corpus{Owner: "alice"}), types.ErrEmptyCorpusName)
	assert.ErrorIs(t, storage.CreateCorpus(ctx, &types.Corpus{Name: "x"}), types.ErrEmptyOwner)
}

func TestGetCorpus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")

	byID, err := storage.GetCorpus(ctx, corpus.ID)
	require.NoError(t, err)
	assert.Equal(t, corpus.Name, byID.Name)
	assert.Equal(t, corpus.Owner, byID.Owner)

	byName, err := storage.GetCorpusByName(ctx, "alice", "docs")
	require.NoError(t, err)
	assert.Equal(t, corpus.ID, byName.ID)

	_, err = storage.GetCorpus(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = storage.GetCorpusByName(ctx, "bob", "docs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCorpora(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	createTestCorpus(t, storage, "b")
	createTestCorpus(t, storage, "a")
	require.NoError(t, storage.CreateCorpus(ctx, &types.Corpus{Name: "c", Owner: "bob"}))

	mine, err := storage.ListCorpora(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "a", mine[0].Name)
	assert.Equal(t, "b", mine[1].Name)

	all, err := storage.ListCorpora(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTouchCorpus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, storage.TouchCorpus(ctx, corpus.ID))

	touched, err := storage.GetCorpus(ctx, corpus.ID)
	require.NoError(t, err)
	assert.True(t, touched.UpdatedAt.After(corpus.UpdatedAt))

	assert.ErrorIs(t, storage.TouchCorpus(ctx, uuid.New()), ErrNotFound)
}

func TestDeleteCorpus_Cascades(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")
	file := upsertTestFile(t, storage, corpus.ID, "a.txt", "hello")
	splits, err := storage.ReplaceSplits(ctx, file.ID, []types.SplitInput{{Order: 0, Content: "hello"}})
	require.NoError(t, err)

	require.NoError(t, storage.DeleteCorpus(ctx, corpus.ID))

	_, err = storage.GetCorpus(ctx, corpus.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = storage.GetFile(ctx, file.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = storage.GetSplit(ctx, splits[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, storage.DeleteCorpus(ctx, corpus.ID), ErrNotFound)
}

func TestUpsertFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")

	t.Run("insert then replace", func(t *testing.T) {
		first := upsertTestFile(t, storage, corpus.ID, "a.txt", "X")
		assert.Equal(t, digest.HashString("X"), first.Digest)
		assert.Equal(t, corpus.ID, first.CorpusID)

		_, err := storage.ReplaceSplits(ctx, first.ID, []types.SplitInput{{Order: 0, Content: "X"}})
		require.NoError(t, err)

		second := upsertTestFile(t, storage, corpus.ID, "a.txt", "XY")
		assert.Equal(t, first.ID, second.ID, "upsert keeps the file identity")
		assert.Equal(t, "XY", second.Content)
		assert.Equal(t, digest.HashString("XY"), second.Digest)

		n, err := storage.CountSplits(ctx, second.ID)
		require.NoError(t, err)
		assert.Zero(t, n, "upsert deletes the old splits")
	})

	t.Run("summary survives an unchanged digest only", func(t *testing.T) {
		file := upsertTestFile(t, storage, corpus.ID, "s.md", "# Title")
		require.NoError(t, storage.SetFileSummary(ctx, file.ID, file.Digest, "a title"))
		require.NoError(t, storage.SetFileSummaryVector(ctx, file.ID, file.Digest, []float32{1, 0}))
		assert.ErrorIs(t, storage.SetFileSummary(ctx, file.ID, digest.HashString("other"), "stale"), ErrNotFound)

		same := upsertTestFile(t, storage, corpus.ID, "s.md", "# Title")
		assert.Equal(t, "a title", same.Summary)
		assert.Equal(t, []float32{1, 0}, same.SummaryVector)

		changed := upsertTestFile(t, storage, corpus.ID, "s.md", "# Other")
		assert.Empty(t, changed.Summary)
		assert.Nil(t, changed.SummaryVector)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := storage.UpsertFile(ctx, corpus.ID, "", "x", digest.HashString("x"))
		assert.ErrorIs(t, err, types.ErrEmptyPath)

		_, err = storage.UpsertFile(ctx, corpus.ID, "a", "x", "nothex")
		assert.ErrorIs(t, err, types.ErrInvalidDigest)

		_, err = storage.UpsertFile(ctx, uuid.New(), "a", "x", digest.HashString("x"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")
	file := upsertTestFile(t, storage, corpus.ID, "dir/a.go", "package a")

	byID, err := storage.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "dir/a.go", byID.Path)
	assert.Equal(t, "package a", byID.Content)

	byPath, err := storage.GetFileByPath(ctx, corpus.ID, "dir/a.go")
	require.NoError(t, err)
	assert.Equal(t, file.ID, byPath.ID)

	_, err = storage.GetFile(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = storage.GetFileByPath(ctx, corpus.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilesAndHashes(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")
	other := createTestCorpus(t, storage, "other")

	upsertTestFile(t, storage, corpus.ID, "b.txt", "b")
	upsertTestFile(t, storage, corpus.ID, "a.txt", "a")
	upsertTestFile(t, storage, other.ID, "c.txt", "c")

	files, err := storage.ListFiles(ctx, corpus.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Path)

	hashes, err := storage.ListFileHashes(ctx, corpus.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"a.txt": digest.HashString("a"),
		"b.txt": digest.HashString("b"),
	}, hashes)

	_, err = storage.ListFileHashes(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFilesByPath(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")
	other := createTestCorpus(t, storage, "other")

	a := upsertTestFile(t, storage, corpus.ID, "a.txt", "a")
	upsertTestFile(t, storage, corpus.ID, "b.txt", "b")
	upsertTestFile(t, storage, other.ID, "a.txt", "a")
	splits, err := storage.ReplaceSplits(ctx, a.ID, []types.SplitInput{{Order: 0, Content: "a"}})
	require.NoError(t, err)

	n, err := storage.DeleteFilesByPath(ctx, corpus.ID, []string{"a.txt", "missing.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hashes, err := storage.ListFileHashes(ctx, corpus.ID)
	require.NoError(t, err)
	assert.NotContains(t, hashes, "a.txt")
	assert.Contains(t, hashes, "b.txt")

	_, err = storage.GetSplit(ctx, splits[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Scoped to the corpus
	otherHashes, err := storage.ListFileHashes(ctx, other.ID)
	require.NoError(t, err)
	assert.Contains(t, otherHashes, "a.txt")

	n, err = storage.DeleteFilesByPath(ctx, corpus.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteFilesByPath_LargeBatch(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")

	paths := make([]string, 0, deleteBatchSize+10)
	for i := 0; i < deleteBatchSize+10; i++ {
		p := uuid.NewString() + ".txt"
		upsertTestFile(t, storage, corpus.ID, p, p)
		paths = append(paths, p)
	}

	n, err := storage.DeleteFilesByPath(ctx, corpus.ID, paths)
	require.NoError(t, err)
	assert.Equal(t, len(paths), n)
}

func TestReplaceSplits(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")
	file := upsertTestFile(t, storage, corpus.ID, "a.txt", "one two three")

	first, err := storage.ReplaceSplits(ctx, file.ID, []types.SplitInput{
		{Order: 0, Content: "one", Metadata: map[string]any{"strategy": "text"}},
		{Order: 1, Content: "two"},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Less(t, first[0].Seq, first[1].Seq)

	second, err := storage.ReplaceSplits(ctx, file.ID, []types.SplitInput{
		{Order: 0, Content: "one two"},
		{Order: 1, Content: "three"},
		{Order: 2, Content: "four"},
	})
	require.NoError(t, err)
	require.Len(t, second, 3)

	for _, old := range first {
		_, err := storage.GetSplit(ctx, old.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	}

	listed, err := storage.ListSplits(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, sp := range listed {
		assert.Equal(t, i, sp.Order)
	}
	assert.Equal(t, "one two", listed[0].Content)

	t.Run("metadata round trip", func(t *testing.T) {
		got, err := storage.ReplaceSplits(ctx, file.ID, []types.SplitInput{
			{Order: 0, Content: "x", Metadata: map[string]any{"strategy": "go", "symbols": []any{"A", "B"}}},
		})
		require.NoError(t, err)
		stored, err := storage.GetSplit(ctx, got[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "go", stored.Metadata["strategy"])
		assert.Equal(t, []any{"A", "B"}, stored.Metadata["symbols"])
	})

	t.Run("rejects duplicate orders atomically", func(t *testing.T) {
		before, err := storage.ListSplits(ctx, file.ID)
		require.NoError(t, err)

		_, err = storage.ReplaceSplits(ctx, file.ID, []types.SplitInput{{Order: 0}, {Order: 0}})
		assert.ErrorIs(t, err, ErrAlreadyExists)

		after, err := storage.ListSplits(ctx, file.ID)
		require.NoError(t, err)
		assert.Equal(t, len(before), len(after))
	})

	t.Run("negative order", func(t *testing.T) {
		_, err := storage.ReplaceSplits(ctx, file.ID, []types.SplitInput{{Order: -1}})
		assert.ErrorIs(t, err, types.ErrNegativeOrder)
	})

	t.Run("unknown file", func(t *testing.T) {
		_, err := storage.ReplaceSplits(ctx, uuid.New(), []types.SplitInput{{Order: 0}})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty set clears", func(t *testing.T) {
		got, err := storage.ReplaceSplits(ctx, file.ID, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
		n, err := storage.CountSplits(ctx, file.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestCreateSplit(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")
	file := upsertTestFile(t, storage, corpus.ID, "a.txt", "a")

	sp, err := storage.CreateSplit(ctx, file.ID, 0, "a", nil)
	require.NoError(t, err)
	assert.Equal(t, file.ID, sp.FileID)

	_, err = storage.CreateSplit(ctx, file.ID, 0, "again", nil)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = storage.CreateSplit(ctx, uuid.New(), 0, "a", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.DeleteSplitsForFile(ctx, file.ID))
	n, err := storage.CountSplits(ctx, file.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetSplitVector(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")
	file := upsertTestFile(t, storage, corpus.ID, "a.txt", "a")
	sp, err := storage.CreateSplit(ctx, file.ID, 0, "a", nil)
	require.NoError(t, err)

	require.NoError(t, storage.SetSplitVector(ctx, sp.ID, []float32{0.1, 0.2}))

	stored, err := storage.GetSplit(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, stored.Vector)
	assert.True(t, stored.HasVector())

	err = storage.SetSplitVector(ctx, sp.ID, []float32{0.3, 0.4})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = storage.SetSplitVector(ctx, uuid.New(), []float32{1})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, storage.SetSplitVector(ctx, sp.ID, nil))
}

func TestFilterSplitsWithVector(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")
	file := upsertTestFile(t, storage, corpus.ID, "a.txt", "abc")
	splits, err := storage.ReplaceSplits(ctx, file.ID, []types.SplitInput{
		{Order: 0, Content: "a"}, {Order: 1, Content: "b"}, {Order: 2, Content: "c"},
	})
	require.NoError(t, err)
	require.NoError(t, storage.SetSplitVector(ctx, splits[0].ID, []float32{1}))
	require.NoError(t, storage.SetSplitVector(ctx, splits[2].ID, []float32{1}))

	var got []string
	for sp, err := range storage.FilterSplitsWithVector(ctx, corpus.ID) {
		require.NoError(t, err)
		got = append(got, sp.Content)
	}
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestSearchSplits(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")
	file := upsertTestFile(t, storage, corpus.ID, "a.txt", "one two three four")

	splits, err := storage.ReplaceSplits(ctx, file.ID, []types.SplitInput{
		{Order: 0, Content: "one"},
		{Order: 1, Content: "two"},
		{Order: 2, Content: "three"},
		{Order: 3, Content: "four"}, // never embedded
	})
	require.NoError(t, err)
	require.NoError(t, storage.SetSplitVector(ctx, splits[0].ID, filled(0.1, 1536)))
	require.NoError(t, storage.SetSplitVector(ctx, splits[1].ID, filled(0.2, 1536)))
	require.NoError(t, storage.SetSplitVector(ctx, splits[2].ID, filled(0.3, 1536)))

	t.Run("parallel vectors tie and keep insertion order", func(t *testing.T) {
		results, err := storage.SearchSplits(ctx, corpus.ID, filled(0.1, 1536), 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, splits[0].ID, results[0].Split.ID)
		assert.Equal(t, splits[1].ID, results[1].Split.ID)
		assert.Equal(t, "a.txt", results[0].Path)
		assert.InDelta(t, 0, results[0].Distance, 1e-9)
	})

	t.Run("never returns splits without vectors", func(t *testing.T) {
		results, err := storage.SearchSplits(ctx, corpus.ID, filled(0.1, 1536), 10)
		require.NoError(t, err)
		assert.Len(t, results, 3)
		for _, r := range results {
			assert.True(t, r.Split.HasVector())
		}
	})

	t.Run("limit", func(t *testing.T) {
		results, err := storage.SearchSplits(ctx, corpus.ID, filled(0.1, 1536), 0)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("dimension mismatch is skipped", func(t *testing.T) {
		results, err := storage.SearchSplits(ctx, corpus.ID, filled(0.1, 8), 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("unknown corpus", func(t *testing.T) {
		_, err := storage.SearchSplits(ctx, uuid.New(), filled(0.1, 1536), 10)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSearchSplits_OrdersByDistance(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")
	other := createTestCorpus(t, storage, "other")

	file := upsertTestFile(t, storage, corpus.ID, "a.txt", "abc")
	splits, err := storage.ReplaceSplits(ctx, file.ID, []types.SplitInput{
		{Order: 0, Content: "far"}, {Order: 1, Content: "near"}, {Order: 2, Content: "middle"},
	})
	require.NoError(t, err)
	require.NoError(t, storage.SetSplitVector(ctx, splits[0].ID, []float32{0, 1}))
	require.NoError(t, storage.SetSplitVector(ctx, splits[1].ID, []float32{1, 0}))
	require.NoError(t, storage.SetSplitVector(ctx, splits[2].ID, []float32{1, 1}))

	// A split in another corpus must not leak into results
	otherFile := upsertTestFile(t, storage, other.ID, "b.txt", "b")
	otherSplit, err := storage.CreateSplit(ctx, otherFile.ID, 0, "b", nil)
	require.NoError(t, err)
	require.NoError(t, storage.SetSplitVector(ctx, otherSplit.ID, []float32{1, 0}))

	results, err := storage.SearchSplits(ctx, corpus.ID, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "near", results[0].Split.Content)
	assert.Equal(t, "middle", results[1].Split.Content)
	assert.Equal(t, "far", results[2].Split.Content)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	corpus := createTestCorpus(t, storage, "docs")

	a := upsertTestFile(t, storage, corpus.ID, "a.txt", "a")
	upsertTestFile(t, storage, corpus.ID, "b.txt", "b")
	splits, err := storage.ReplaceSplits(ctx, a.ID, []types.SplitInput{{Order: 0}, {Order: 1}})
	require.NoError(t, err)
	require.NoError(t, storage.SetSplitVector(ctx, splits[0].ID, []float32{1}))
	require.NoError(t, storage.SetFileSummary(ctx, a.ID, a.Digest, "summary"))

	status, err := storage.GetStatus(ctx, corpus.ID)
	require.NoError(t, err)
	assert.Equal(t, corpus.ID, status.Corpus.ID)
	assert.Equal(t, 2, status.FilesCount)
	assert.Equal(t, 2, status.SplitsCount)
	assert.Equal(t, 1, status.VectorsCount)
	assert.Equal(t, 1, status.PendingVectors)
	assert.Equal(t, 1, status.SummariesCount)

	_, err = storage.GetStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = Open(context.Background(), "mysql", "")
	assert.Error(t, err)
}
