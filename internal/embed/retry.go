package embed

import (
	"context"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// RetryingProvider retries retryable provider failures with exponential
// backoff. Non-retryable errors (bad request, dimension mismatch) and
// context errors are returned immediately.
type RetryingProvider struct {
	inner Provider
	cfg   woerrors.RetryConfig
}

var (
	_ Provider      = (*RetryingProvider)(nil)
	_ QueryEmbedder = (*RetryingProvider)(nil)
)

// NewRetryingProvider wraps inner with the given retry policy. A nil
// ShouldRetry defaults to woerrors.IsRetryable.
func NewRetryingProvider(inner Provider, cfg woerrors.RetryConfig) *RetryingProvider {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = woerrors.IsRetryable
	}
	return &RetryingProvider{inner: inner, cfg: cfg}
}

// Embed retries inner.Embed.
func (r *RetryingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return woerrors.RetryWithResult(ctx, r.cfg, func() ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
}

// EmbedBatch retries inner.EmbedBatch as a whole.
func (r *RetryingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return woerrors.RetryWithResult(ctx, r.cfg, func() ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
}

// EmbedQuery retries the inner query embedding.
func (r *RetryingProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return woerrors.RetryWithResult(ctx, r.cfg, func() ([]float32, error) {
		return EmbedQuery(ctx, r.inner, query)
	})
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (r *RetryingProvider) Dimensions() int {
	return r.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (r *RetryingProvider) ModelName() string {
	return r.inner.ModelName()
}

// Close closes the inner provider.
func (r *RetryingProvider) Close() error {
	return r.inner.Close()
}
