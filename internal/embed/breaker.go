package embed

import (
	"context"
	"errors"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// BreakerProvider fails fast with a provider error while the circuit is open.
type BreakerProvider struct {
	inner Provider
	cb    *woerrors.CircuitBreaker
}

var (
	_ Provider      = (*BreakerProvider)(nil)
	_ QueryEmbedder = (*BreakerProvider)(nil)
)

// NewBreakerProvider wraps inner with cb.
func NewBreakerProvider(inner Provider, cb *woerrors.CircuitBreaker) *BreakerProvider {
	return &BreakerProvider{inner: inner, cb: cb}
}

// Breaker returns the underlying circuit breaker.
func (b *BreakerProvider) Breaker() *woerrors.CircuitBreaker {
	return b.cb
}

// Embed calls inner.Embed through the breaker.
func (b *BreakerProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := woerrors.CircuitExecute(b.cb, func() ([]float32, error) {
		return b.inner.Embed(ctx, text)
	})
	return vec, b.wrap("embed", err)
}

// EmbedBatch calls inner.EmbedBatch through the breaker.
func (b *BreakerProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := woerrors.CircuitExecute(b.cb, func() ([][]float32, error) {
		return b.inner.EmbedBatch(ctx, texts)
	})
	return vecs, b.wrap("embed_batch", err)
}

// EmbedQuery calls the inner query embedding through the breaker.
func (b *BreakerProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := woerrors.CircuitExecute(b.cb, func() ([]float32, error) {
		return EmbedQuery(ctx, b.inner, query)
	})
	return vec, b.wrap("embed_query", err)
}

// wrap reports ErrCircuitOpen as a provider error.
func (b *BreakerProvider) wrap(op string, err error) error {
	if errors.Is(err, woerrors.ErrCircuitOpen) {
		return woerrors.Provider(op, err).
			WithDetail("circuit", b.cb.Name()).
			WithSuggestion("the embedding provider failed repeatedly; it will be retried after the reset timeout")
	}
	return err
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (b *BreakerProvider) Dimensions() int {
	return b.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (b *BreakerProvider) ModelName() string {
	return b.inner.ModelName()
}

// Close closes the inner provider.
func (b *BreakerProvider) Close() error {
	return b.inner.Close()
}
