package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Environment variables
	EnvProvider      = "CORPORA_EMBEDDING_PROVIDER"
	EnvJinaAPIKey    = "JINA_API_KEY"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"

	// Default endpoints and models
	DefaultJinaBaseURL        = "https://api.jina.ai/v1"
	DefaultOpenAIBaseURL      = "https://api.openai.com/v1"
	DefaultJinaModel          = "jina-embeddings-v3"
	DefaultOpenAIModel        = "text-embedding-3-small"
	DefaultOpenAISummaryModel = "gpt-4o-mini"
	DefaultLocalModel         = "local-hashing"
	DefaultSummarySentences   = 5
	summarySystemPrompt       = "Summarize the following file from a source repository in a few sentences. Describe its purpose and main contents."

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	MaxBatchSize = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// ProviderOption customizes a remote provider
type ProviderOption func(*remoteProvider)

// WithBaseURL points the provider at a compatible endpoint (Azure, proxies, tests)
func WithBaseURL(url string) ProviderOption {
	return func(p *remoteProvider) {
		if url != "" {
			p.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel overrides the default embedding model
func WithModel(model string) ProviderOption {
	return func(p *remoteProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *remoteProvider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithRetryConfig overrides DefaultRetryConfig
func WithRetryConfig(cfg RetryConfig) ProviderOption {
	return func(p *remoteProvider) {
		p.retry = cfg
	}
}

// WithRateLimit caps outgoing requests per second; rps <= 0 disables the limit
func WithRateLimit(rps float64) ProviderOption {
	return func(p *remoteProvider) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// remoteProvider implements the OpenAI-compatible /embeddings protocol shared
// by Jina and OpenAI
type remoteProvider struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
	limiter    *rate.Limiter
}

func newRemoteProvider(name, apiKey, baseURL, model string, dim int, cache *Cache, opts []ProviderOption) *remoteProvider {
	p := &remoteProvider{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dimension: dim,
		cache:     cache,
		retry:     DefaultRetryConfig(),
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *remoteProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	if p.cache != nil {
		if emb, ok := p.cache.Get(ComputeHash(model, req.Text)); ok {
			return emb, nil
		}
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

func (p *remoteProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	embeddings, attempts, err := retryWithBackoff(ctx, p.retry, func() ([]*Embedding, error) {
		return p.callEmbeddings(ctx, req.Texts, model)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrProviderFailed, attempts, err)
	}

	if len(embeddings) != len(req.Texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(embeddings), len(req.Texts))
	}

	if p.cache != nil {
		for i, emb := range embeddings {
			hash := ComputeHash(model, req.Texts[i])
			emb.Hash = hash
			p.cache.Set(hash, emb)
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      model,
	}, nil
}

// post sends a JSON request and decodes a JSON response, honouring the rate limit
func (p *remoteProvider) post(ctx context.Context, path string, reqBody, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Provider: p.name, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (p *remoteProvider) callEmbeddings(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	reqBody := map[string]interface{}{
		"input": texts,
		"model": model,
	}
	if err := p.post(ctx, "/embeddings", reqBody, &apiResp); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(embeddings) || embeddings[idx] != nil {
			idx = i
		}
		embeddings[idx] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     model,
		}
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("missing embedding at index %d", i)
		}
	}

	return embeddings, nil
}

func (p *remoteProvider) Dimension() int {
	return p.dimension
}

func (p *remoteProvider) Provider() string {
	return p.name
}

func (p *remoteProvider) Model() string {
	return p.model
}

func (p *remoteProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	if p.cache != nil {
		p.cache.Clear()
	}
	return nil
}

// JinaProvider implements Port using the Jina AI embeddings API. Jina has no
// completion endpoint, so summaries are extractive.
type JinaProvider struct {
	*remoteProvider
	summarizer *FrequencySummarizer
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache, opts ...ProviderOption) (*JinaProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvJinaAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}

	return &JinaProvider{
		remoteProvider: newRemoteProvider(ProviderJina, apiKey, DefaultJinaBaseURL, DefaultJinaModel, JinaDimension, cache, opts),
		summarizer:     NewFrequencySummarizer(),
	}, nil
}

// Summarize returns an extractive summary of text
func (j *JinaProvider) Summarize(ctx context.Context, text string) (string, error) {
	return j.summarizer.Summarize(ctx, text)
}

// OpenAIProvider implements Port using the OpenAI API (or a compatible endpoint)
type OpenAIProvider struct {
	*remoteProvider
	summaryModel string
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache, opts ...ProviderOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}

	base := DefaultOpenAIBaseURL
	if env := os.Getenv(EnvOpenAIBaseURL); env != "" {
		base = strings.TrimRight(env, "/")
	}

	return &OpenAIProvider{
		remoteProvider: newRemoteProvider(ProviderOpenAI, apiKey, base, DefaultOpenAIModel, OpenAIDimension, cache, opts),
		summaryModel:   DefaultOpenAISummaryModel,
	}, nil
}

// SetSummaryModel overrides the chat model used by Summarize
func (o *OpenAIProvider) SetSummaryModel(model string) {
	if model != "" {
		o.summaryModel = model
	}
}

// Summarize asks the chat completions endpoint for a summary of text
func (o *OpenAIProvider) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	reqBody := map[string]interface{}{
		"model": o.summaryModel,
		"messages": []map[string]string{
			{"role": "system", "content": summarySystemPrompt},
			{"role": "user", "content": text},
		},
	}

	summary, attempts, err := retryWithBackoff(ctx, o.retry, func() (string, error) {
		var apiResp struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := o.post(ctx, "/chat/completions", reqBody, &apiResp); err != nil {
			return "", err
		}
		if len(apiResp.Choices) == 0 {
			return "", fmt.Errorf("no choices returned")
		}
		return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w after %d attempts: %w", ErrProviderFailed, attempts, err)
	}
	return summary, nil
}

// LocalProvider produces deterministic feature-hashing embeddings without any
// network access. Texts sharing words get similar vectors.
type LocalProvider struct {
	model      string
	cache      *Cache
	summarizer *FrequencySummarizer
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		model:      DefaultLocalModel,
		cache:      cache,
		summarizer: NewFrequencySummarizer(),
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(l.model, req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    hashingVector(req.Text, LocalDimension),
		Dimension: LocalDimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}

	if l.cache != nil {
		l.cache.Set(hash, emb)
	}

	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

// Summarize returns an extractive summary of text
func (l *LocalProvider) Summarize(ctx context.Context, text string) (string, error) {
	return l.summarizer.Summarize(ctx, text)
}

func (l *LocalProvider) Dimension() int {
	return LocalDimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	if l.cache != nil {
		l.cache.Clear()
	}
	return nil
}

// hashingVector maps each lowercase word to a signed bucket and normalizes
// the result to unit length
func hashingVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			vector[idx]--
		} else {
			vector[idx]++
		}
	}
	if len(words) == 0 {
		// Punctuation-only text still needs a non-zero vector
		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		vector[int(h.Sum64()%uint64(dim))] = 1
	}
	return NormalizeVector(vector)
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
