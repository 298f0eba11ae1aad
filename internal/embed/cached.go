package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache configuration constants.
const (
	// DefaultEmbeddingCacheSize is the default number of embeddings to cache.
	DefaultEmbeddingCacheSize = 1000
)

// CachedProvider wraps a Provider with an LRU cache of single-text and query
// embeddings. Batches pass straight through.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

var (
	_ Provider      = (*CachedProvider)(nil)
	_ QueryEmbedder = (*CachedProvider)(nil)
)

// NewCachedProvider creates a cached provider wrapping inner.
// cacheSize <= 0 uses DefaultEmbeddingCacheSize.
func NewCachedProvider(inner Provider, cacheSize int) *CachedProvider {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedProvider{
		inner: inner,
		cache: cache,
	}
}

// cacheKey hashes kind, text and model so passage and query embeddings of
// the same text never collide.
func (c *CachedProvider) cacheKey(kind, text string) string {
	combined := kind + "\x00" + text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached embedding if available, otherwise computes and caches.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.lookup(c.cacheKey("passage", text), func() ([]float32, error) {
		return c.inner.Embed(ctx, text)
	})
}

// EmbedQuery returns the cached query embedding if available.
func (c *CachedProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return c.lookup(c.cacheKey("query", query), func() ([]float32, error) {
		return EmbedQuery(ctx, c.inner, query)
	})
}

func (c *CachedProvider) lookup(key string, compute func() ([]float32, error)) ([]float32, error) {
	if vec, ok := c.cache.Get(key); ok {
		return slices.Clone(vec), nil
	}

	vec, err := compute()
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, slices.Clone(vec))
	return vec, nil
}

// EmbedBatch passes through to the inner provider.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

// Len returns the number of cached embeddings.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (c *CachedProvider) ModelName() string {
	return c.inner.ModelName()
}

// Close purges the cache and closes the inner provider.
func (c *CachedProvider) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// Inner returns the underlying provider.
func (c *CachedProvider) Inner() Provider {
	return c.inner
}
