package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/corpora/internal/collector"
)

// execute runs the root command with args and returns its output
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

// isolate points configuration at a scratch directory with the local embedder
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("CORPORA_CONFIG", "")
	t.Setenv("CORPORA_DB_DRIVER", "")
	t.Setenv("CORPORA_DATABASE_URL", "")
	t.Setenv("CORPORA_DB_PATH", filepath.Join(dir, "corpora.db"))
	t.Setenv("CORPORA_EMBEDDING_PROVIDER", "local")
	t.Setenv("CORPORA_OWNER", "tester")
	t.Setenv("CORPORA_LOG_LEVEL", "error")
	return dir
}

func TestVersionCmd(t *testing.T) {
	originalVersion := version
	version = "test-1.0.0"
	defer func() { version = originalVersion }()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "corpora version test-1.0.0")
	assert.Contains(t, out, "SQLite Driver:")
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "work", "init", "sync", "search", "context", "files", "splits", "status", "list", "delete", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestSyncAndSearch(t *testing.T) {
	dir := isolate(t)

	project := filepath.Join(dir, "project")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "notes.md"), []byte("Sprockets drive the widget assembly line."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, "todo.txt"), []byte("Paint the gadgets blue."), 0o644))

	out, err := execute(t, "init", "kb", "--url", "https://example.com/kb")
	require.NoError(t, err)
	assert.Contains(t, out, "Created corpus kb")

	_, err = execute(t, "init", "kb")
	assert.Error(t, err)

	out, err = execute(t, "sync", project, "--corpus", "kb", "--no-git", "--wait")
	require.NoError(t, err)
	assert.Contains(t, out, "2 upserted")
	assert.Contains(t, out, "+ notes.md")

	out, err = execute(t, "sync", project, "--corpus", "kb", "--no-git", "--wait=false")
	require.NoError(t, err)
	assert.Contains(t, out, "kb is up to date")

	out, err = execute(t, "files", "kb")
	require.NoError(t, err)
	assert.Contains(t, out, "notes.md")
	assert.Contains(t, out, "todo.txt")

	out, err = execute(t, "search", "kb", "sprockets", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "[1]")
	assert.NotContains(t, out, "[2]")

	out, err = execute(t, "status", "kb")
	require.NoError(t, err)
	assert.Contains(t, out, "Files:           2")
	assert.Contains(t, out, "Pending vectors: 0")

	out, err = execute(t, "splits", "kb", "todo.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "embedded=true")

	_, err = execute(t, "delete", "kb")
	assert.Error(t, err, "delete requires --yes")

	_, err = execute(t, "delete", "kb", "--yes")
	require.NoError(t, err)

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No corpora.")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n  b\tc", 10))
	assert.Equal(t, "abc...", preview("abcdef", 3))
}

func TestSync_RespectsServerEntryLimit(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corpora.yaml"), []byte("pipeline:\n  max_entry_size: 16\n"), 0o644))

	project := filepath.Join(dir, "limits")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "small.txt"), []byte("tiny"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, "large.txt"), []byte("this file is above the entry limit"), 0o644))

	out, err := execute(t, "sync", project, "--corpus", "limits", "--no-git", "--wait", "--max-file-size", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "1 upserted")
	assert.Contains(t, out, "Skipped 1 files")
	assert.NotContains(t, out, "+ large.txt")

	// The oversized file is not uploaded again on the next sync
	out, err = execute(t, "sync", project, "--corpus", "limits", "--no-git", "--wait=false")
	require.NoError(t, err)
	assert.Contains(t, out, "limits is up to date")
}

func TestCollectFlags(t *testing.T) {
	defer func(size int64, exclude []string, noGit bool) {
		syncMaxFileSize, syncExclude, syncNoGit = size, exclude, noGit
	}(syncMaxFileSize, syncExclude, syncNoGit)

	syncExclude = []string{"*.log"}
	syncNoGit = true

	tests := []struct {
		name string
		flag int64
		want int64
	}{
		{"unset keeps server limit", 0, 100},
		{"lower flag wins", 10, 10},
		{"higher flag is capped", 1000, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncMaxFileSize = tt.flag
			opts := collectFlags(collector.Options{MaxFileSize: 100})
			assert.Equal(t, tt.want, opts.MaxFileSize)
			assert.Equal(t, []string{"*.log"}, opts.Exclude)
			assert.True(t, opts.NoGit)
		})
	}
}

func TestAppClose(t *testing.T) {
	isolate(t)
	a, err := openApp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.cfg.Pipeline.MaxEntrySize, a.collectOptions().MaxFileSize)
	assert.NoError(t, a.Close())
}
