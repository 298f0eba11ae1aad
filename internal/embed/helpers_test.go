package embed

import (
	"context"
	"math"
	"sync/atomic"
)

// mockProvider is a test double with overridable behavior and call counters.
type mockProvider struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	batchFn func(ctx context.Context, texts []string) ([][]float32, error)
	queryFn func(ctx context.Context, query string) ([]float32, error)

	embedCalls atomic.Int64
	batchCalls atomic.Int64
	queryCalls atomic.Int64
	closed     atomic.Bool

	dims  int
	model string
}

func newMockProvider(dims int) *mockProvider {
	return &mockProvider{dims: dims, model: "mock-model"}
}

func (m *mockProvider) vector() []float32 {
	vec := make([]float32, m.dims)
	for i := range vec {
		vec[i] = float32(i+1) * 0.001
	}
	return vec
}

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return m.vector(), nil
}

func (m *mockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	if m.batchFn != nil {
		return m.batchFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vector()
	}
	return out, nil
}

func (m *mockProvider) Dimensions() int   { return m.dims }
func (m *mockProvider) ModelName() string { return m.model }

func (m *mockProvider) Close() error {
	m.closed.Store(true)
	return nil
}

// mockQueryProvider additionally implements QueryEmbedder.
type mockQueryProvider struct {
	*mockProvider
}

func (m mockQueryProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	m.queryCalls.Add(1)
	if m.queryFn != nil {
		return m.queryFn(ctx, query)
	}
	vec := make([]float32, m.dims)
	vec[0] = 1
	return vec, nil
}

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}
