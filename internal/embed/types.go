// Package embed turns text into dense vectors for the vector index.
//
// A Provider is one embedding backend (static hashing, Ollama, or an
// OpenAI-compatible API). NewProvider composes the configured backend with
// the retry, circuit breaker, rate limit and cache decorators.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size.
	MaxBatchSize = 256

	// DefaultBatchSize is the number of texts per provider request.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single provider HTTP request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries for transient failures.
	DefaultMaxRetries = 3

	// DefaultDimensions is used when a remote provider does not report one.
	DefaultDimensions = 768
)

// Static embedder constants
const (
	// StaticDimensions is the vector length of the static provider.
	StaticDimensions = 256
)

// Provider generates embeddings for text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector length.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// QueryEmbedder is implemented by providers that embed search queries with a
// different model or instruction than passages.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// EmbedQuery embeds a search query, using the provider's query model when it
// has one.
func EmbedQuery(ctx context.Context, p Provider, query string) ([]float32, error) {
	if qe, ok := p.(QueryEmbedder); ok {
		return qe.EmbedQuery(ctx, query)
	}
	return p.Embed(ctx, query)
}

// normalizeVector returns v scaled to unit length. A zero vector is returned
// unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
