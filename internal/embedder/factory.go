package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider          string
	Model             string
	SummaryModel      string
	APIKey            string
	BaseURL           string
	CacheSize         int
	RequestsPerSecond float64
	Retry             *RetryConfig
}

// New creates the provider named by cfg.Provider. An empty provider is
// resolved with DetectProvider.
func New(cfg Config) (Port, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	opts := []ProviderOption{
		WithModel(cfg.Model),
		WithBaseURL(cfg.BaseURL),
		WithRateLimit(cfg.RequestsPerSecond),
	}
	if cfg.Retry != nil {
		opts = append(opts, WithRetryConfig(*cfg.Retry))
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cache, opts...)
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.APIKey, cache, opts...)
		if err != nil {
			return nil, err
		}
		p.SetSummaryModel(cfg.SummaryModel)
		return p, nil
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
// Priority:
// 1. CORPORA_EMBEDDING_PROVIDER (jina, openai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
