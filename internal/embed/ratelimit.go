package embed

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider throttles requests to the inner provider with a token
// bucket. Every call, including each retry attempt, takes one token.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

var (
	_ Provider      = (*RateLimitedProvider)(nil)
	_ QueryEmbedder = (*RateLimitedProvider)(nil)
)

// NewRateLimitedProvider allows perSecond requests per second with the given
// burst. burst < 1 is treated as 1.
func NewRateLimitedProvider(inner Provider, perSecond float64, burst int) *RateLimitedProvider {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Embed waits for a token, then calls inner.Embed.
func (r *RateLimitedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// EmbedBatch waits for a token, then calls inner.EmbedBatch.
func (r *RateLimitedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedBatch(ctx, texts)
}

// EmbedQuery waits for a token, then embeds the query.
func (r *RateLimitedProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return EmbedQuery(ctx, r.inner, query)
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (r *RateLimitedProvider) Dimensions() int {
	return r.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (r *RateLimitedProvider) ModelName() string {
	return r.inner.ModelName()
}

// Close closes the inner provider.
func (r *RateLimitedProvider) Close() error {
	return r.inner.Close()
}
