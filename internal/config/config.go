// Package config loads corpora settings from YAML, a .env file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables
const (
	EnvConfig            = "CORPORA_CONFIG"
	EnvDBPath            = "CORPORA_DB_PATH"
	EnvDBDriver          = "CORPORA_DB_DRIVER"
	EnvDatabaseURL       = "CORPORA_DATABASE_URL"
	EnvEmbeddingProvider = "CORPORA_EMBEDDING_PROVIDER"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvOpenAIBaseURL     = "OPENAI_BASE_URL"
	EnvJinaAPIKey        = "JINA_API_KEY"
	EnvLogLevel          = "CORPORA_LOG_LEVEL"
	EnvOwner             = "CORPORA_OWNER"
)

// DefaultDBPath is the SQLite database used when none is configured
const DefaultDBPath = "~/.corpora/corpora.db"

var (
	drivers   = []string{"sqlite", "postgres"}
	providers = []string{"", "local", "openai", "jina"}
)

// StorageConfig selects the database
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`   // SQLite file
	DSN    string `yaml:"dsn"`    // Postgres connection string
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"` // empty means detect from the environment
	Model             string  `yaml:"model"`
	SummaryModel      string  `yaml:"summary_model"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	CacheSize         int     `yaml:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ChunkerConfig sizes splits, in characters
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// PipelineConfig tunes the ingestion workers
type PipelineConfig struct {
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Lease        time.Duration `yaml:"lease"`
	Summarize    bool          `yaml:"summarize"`
	MaxEntrySize int64         `yaml:"max_entry_size"`
}

// RetrievalConfig bounds result counts
type RetrievalConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration
type Config struct {
	Owner     string          `yaml:"owner"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Owner: defaultOwner(),
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   DefaultDBPath,
		},
		Embedding: EmbeddingConfig{
			CacheSize: 10000,
		},
		Chunker: ChunkerConfig{
			ChunkSize:    5000,
			ChunkOverlap: 0,
		},
		Pipeline: PipelineConfig{
			Workers:      4,
			MaxAttempts:  5,
			BaseDelay:    time.Second,
			MaxDelay:     5 * time.Minute,
			PollInterval: time.Second,
			Lease:        5 * time.Minute,
			MaxEntrySize: 32 << 20,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded first without overriding variables already set. The YAML file is
// path, else $CORPORA_CONFIG, else the first of ./corpora.yaml and
// ~/.config/corpora/config.yaml that exists. Without a file the defaults
// apply. Environment overrides are applied last and the result is validated.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}
	if path == "" {
		path = findConfigFile()
	}

	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Save writes c as YAML, creating parent directories
func (c *Config) Save(path string) error {
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Storage.Path, EnvDBPath)
	setString(&c.Storage.Driver, EnvDBDriver)
	setString(&c.Storage.DSN, EnvDatabaseURL)
	setString(&c.Embedding.Provider, EnvEmbeddingProvider)
	setString(&c.Log.Level, EnvLogLevel)
	setString(&c.Owner, EnvOwner)

	// Provider keys only apply to their own provider
	switch strings.ToLower(c.Embedding.Provider) {
	case "openai":
		setString(&c.Embedding.APIKey, EnvOpenAIAPIKey)
		setString(&c.Embedding.BaseURL, EnvOpenAIBaseURL)
	case "jina":
		setString(&c.Embedding.APIKey, EnvJinaAPIKey)
	}

	// A database URL without an explicit driver means Postgres
	if os.Getenv(EnvDatabaseURL) != "" && os.Getenv(EnvDBDriver) == "" {
		c.Storage.Driver = "postgres"
	}
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	var errs []error

	if c.Owner == "" {
		errs = append(errs, errors.New("owner must be set"))
	}
	if !slices.Contains(drivers, strings.ToLower(c.Storage.Driver)) {
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if strings.EqualFold(c.Storage.Driver, "postgres") && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required for postgres"))
	}
	if !slices.Contains(providers, strings.ToLower(c.Embedding.Provider)) {
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if c.Chunker.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize))
	}
	if c.Chunker.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("chunker.chunk_overlap must not be negative, got %d", c.Chunker.ChunkOverlap))
	}
	if c.Chunker.ChunkSize > 0 && c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		errs = append(errs, fmt.Errorf("chunker.chunk_overlap %d must be smaller than chunk_size %d", c.Chunker.ChunkOverlap, c.Chunker.ChunkSize))
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, errors.New("pipeline.workers must be positive"))
	}
	if c.Pipeline.MaxAttempts <= 0 {
		errs = append(errs, errors.New("pipeline.max_attempts must be positive"))
	}
	if c.Retrieval.DefaultLimit <= 0 || c.Retrieval.MaxLimit < c.Retrieval.DefaultLimit {
		errs = append(errs, fmt.Errorf("retrieval limits must satisfy 0 < default_limit <= max_limit, got %d and %d",
			c.Retrieval.DefaultLimit, c.Retrieval.MaxLimit))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// DBPath returns the SQLite path with ~ expanded
func (c *Config) DBPath() string {
	return ExpandHome(c.Storage.Path)
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func findConfigFile() string {
	candidates := []string{"corpora.yaml", "~/.config/corpora/config.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(ExpandHome(p)); err == nil {
			return p
		}
	}
	return ""
}

func defaultOwner() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "default"
}
