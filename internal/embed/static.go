package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/Aman-CERP/woochi/internal/store"
)

// StaticProvider generates embeddings by hashing tokens and character
// n-grams into a fixed number of buckets. It needs no network or model
// download and is deterministic, at the cost of semantic quality.
type StaticProvider struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a static provider. dims <= 0 uses StaticDimensions.
func NewStaticProvider(dims int) *StaticProvider {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticProvider{dims: dims}
}

// Embed generates the embedding for a single text.
func (p *StaticProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, p.dims), nil
	}
	return normalizeVector(p.generateVector(trimmed)), nil
}

// generateVector creates a hash-based vector from text.
func (p *StaticProvider) generateVector(text string) []float32 {
	vector := make([]float32, p.dims)

	for _, token := range store.Tokenize(text) {
		vector[hashToIndex(token, p.dims)] += tokenWeight
	}

	for _, ngram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		vector[hashToIndex(ngram, p.dims)] += ngramWeight
	}
	return vector
}

// normalizeForNgrams lowercases text and keeps only letters and digits.
func normalizeForNgrams(text string) []rune {
	var out []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(runes []rune, n int) []string {
	if len(runes) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates embeddings for multiple texts.
func (p *StaticProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (p *StaticProvider) Dimensions() int {
	return p.dims
}

// ModelName returns the model identifier.
func (p *StaticProvider) ModelName() string {
	return "static"
}

// Close releases resources.
func (p *StaticProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *StaticProvider) checkOpen() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("provider is closed")
	}
	return nil
}
