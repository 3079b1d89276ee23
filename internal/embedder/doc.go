// Package embedder provides the embedding and summarization capability used by
// ingestion and retrieval.
//
// Three providers are available: OpenAI (or any compatible endpoint), Jina AI
// and a local provider that needs no network. Each one implements Port, which
// combines Embedder and Summarizer.
//
// # Basic Usage
//
//	port, err := embedder.New(embedder.Config{Provider: "openai", CacheSize: 10000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	vec, err := embedder.Embed(ctx, port, "func ParseFile(path string) error")
//	summary, err := port.Summarize(ctx, fileContent)
//
// # Provider Selection
//
// The provider is chosen once, at startup, from configuration. When the
// configured provider is empty it is detected from the environment:
//
//  1. If CORPORA_EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if JINA_API_KEY is set → use Jina AI
//  3. Else if OPENAI_API_KEY is set → use OpenAI
//  4. Else → fallback to local provider (offline mode)
//
// # Errors
//
// Empty or blank input fails with ErrEmptyText before any network call.
// Transport and API failures are retried with exponential backoff; once the
// attempts are exhausted the error wraps ErrProviderFailed. Client errors
// other than 429 are not retried.
//
// # Caching and Rate Limiting
//
// Remote providers cache embeddings in an LRU keyed by a hash of model and
// text, and throttle outgoing requests with a token bucket when
// RequestsPerSecond is configured.
package embedder
