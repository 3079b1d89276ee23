package embedder

import (
	"context"
	"errors"
	"time"
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int           // Maximum number of attempts
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
	Multiplier float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns sensible defaults for API retry
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// retryWithBackoff executes fn with exponential backoff. Context cancellation
// and permanent API errors (4xx other than 429) stop the loop early.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, int, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay
	attempts := max(config.MaxRetries, 1)

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, attempt + 1, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return zero, attempt + 1, ctx.Err()
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return zero, attempt + 1, err
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, attempt + 1, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}

	return zero, attempts, lastErr
}
