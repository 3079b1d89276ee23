package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load consults for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvConfig, EnvDBPath, EnvDBDriver, EnvDatabaseURL, EnvEmbeddingProvider,
		EnvOpenAIAPIKey, EnvOpenAIBaseURL, EnvJinaAPIKey, EnvLogLevel, EnvOwner,
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	// Keep godotenv and the default file lookup away from the developer's files
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 5000, cfg.Chunker.ChunkSize)
	assert.Zero(t, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.False(t, cfg.Pipeline.Summarize)
	assert.Equal(t, 10, cfg.Retrieval.DefaultLimit)
	assert.Equal(t, 100, cfg.Retrieval.MaxLimit)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
owner: bob
storage:
  driver: postgres
  dsn: postgres://localhost/corpora
chunker:
  chunk_size: 800
  chunk_overlap: 100
pipeline:
  base_delay: 250ms
  summarize: true
`))
	require.NoError(t, err)

	assert.Equal(t, "bob", cfg.Owner)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 800, cfg.Chunker.ChunkSize)
	assert.Equal(t, 100, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.BaseDelay)
	assert.True(t, cfg.Pipeline.Summarize)
	assert.Equal(t, 4, cfg.Pipeline.Workers, "unset fields keep their defaults")
	require.NoError(t, cfg.Validate())

	_, err = Parse([]byte("chunker: [oops"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"zero chunk size", func(c *Config) { c.Chunker.ChunkSize = 0 }, "chunk_size must be positive"},
		{"negative overlap", func(c *Config) { c.Chunker.ChunkOverlap = -1 }, "must not be negative"},
		{"overlap too large", func(c *Config) { c.Chunker.ChunkOverlap = 5000 }, "must be smaller"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "unknown storage driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "dsn is required"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "unknown embedding provider"},
		{"no owner", func(c *Config) { c.Owner = "" }, "owner"},
		{"limits inverted", func(c *Config) { c.Retrieval.MaxLimit = 5 }, "retrieval limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		clearEnv(t)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default().Chunker, cfg.Chunker)
	})

	t.Run("explicit file must exist", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("file from environment", func(t *testing.T) {
		clearEnv(t)
		path := writeFile(t, t.TempDir(), "c.yaml", "chunker:\n  chunk_size: 1200\n")
		t.Setenv(EnvConfig, path)

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 1200, cfg.Chunker.ChunkSize)
	})

	t.Run("working directory file", func(t *testing.T) {
		clearEnv(t)
		wd, err := os.Getwd()
		require.NoError(t, err)
		writeFile(t, wd, "corpora.yaml", "owner: carol\n")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "carol", cfg.Owner)
	})

	t.Run("env overrides file", func(t *testing.T) {
		clearEnv(t)
		path := writeFile(t, t.TempDir(), "c.yaml", "owner: file-owner\nlog:\n  level: warn\n")
		t.Setenv(EnvOwner, "env-owner")
		t.Setenv(EnvLogLevel, "debug")
		t.Setenv(EnvDBPath, "/tmp/x.db")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "env-owner", cfg.Owner)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "/tmp/x.db", cfg.DBPath())
	})

	t.Run("dotenv file", func(t *testing.T) {
		clearEnv(t)
		wd, err := os.Getwd()
		require.NoError(t, err)
		writeFile(t, wd, ".env", "CORPORA_EMBEDDING_PROVIDER=openai\nOPENAI_API_KEY=sk-test\n")
		t.Cleanup(func() {
			_ = os.Unsetenv(EnvEmbeddingProvider)
			_ = os.Unsetenv(EnvOpenAIAPIKey)
		})

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.Embedding.Provider)
		assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	})

	t.Run("database url selects postgres", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvDatabaseURL, "postgres://localhost/corpora")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.Storage.Driver)
		assert.Equal(t, "postgres://localhost/corpora", cfg.Storage.DSN)
	})

	t.Run("invalid result", func(t *testing.T) {
		clearEnv(t)
		path := writeFile(t, t.TempDir(), "c.yaml", "chunker:\n  chunk_size: -5\n")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Owner = "dave"
	cfg.Pipeline.BaseDelay = 3 * time.Second
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".corpora", "corpora.db"), ExpandHome(DefaultDBPath))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}
