package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	cache := NewCache(2)
	emb := &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3}

	cache.Set("a", emb)
	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, emb.Vector, got.Vector)

	// Mutating the copy must not touch the cached value
	got.Vector[0] = 99
	again, _ := cache.Get("a")
	assert.Equal(t, float32(1), again.Vector[0])

	cache.Set("b", emb)
	cache.Set("c", emb)
	assert.Equal(t, 2, cache.Size())
	_, ok = cache.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestComputeHash(t *testing.T) {
	assert.Equal(t, ComputeHash("m", "text"), ComputeHash("m", "text"))
	assert.NotEqual(t, ComputeHash("m1", "text"), ComputeHash("m2", "text"))
	assert.Len(t, ComputeHash("m", "text"), 64)
}

func TestValidateRequest(t *testing.T) {
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{Text: ""}), ErrEmptyText)
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{Text: " \n\t"}), ErrEmptyText)
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "hi"}))
}

func TestValidateBatchRequest(t *testing.T) {
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"a", ""}}), ErrEmptyText)

	large := make([]string, MaxBatchSize+1)
	for i := range large {
		large[i] = "text"
	}
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: large}), ErrBatchTooLarge)
}

func TestEmbed(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalProvider(nil)
	require.NoError(t, err)

	vec, err := Embed(ctx, local, "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, LocalDimension)

	_, err = Embed(ctx, local, "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{400, false},
		{401, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		err := &APIError{Provider: "x", StatusCode: tt.status}
		assert.Equal(t, tt.temporary, err.Temporary(), "status %d", tt.status)
	}

	var apiErr *APIError
	wrapped := errors.Join(ErrProviderFailed, &APIError{StatusCode: 401})
	assert.True(t, errors.As(wrapped, &apiErr))
}
