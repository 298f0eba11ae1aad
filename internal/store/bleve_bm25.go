package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// TextTokenizerName is the bleve registry name of the Tokenizer type.
	// It accepts "stop_words" and "min_token_length" settings.
	TextTokenizerName = "woochi_text_tokenizer"

	// TextAnalyzerName is the analyzer built on the configured tokenizer.
	TextAnalyzerName = "woochi_text_analyzer"

	configuredTokenizerName = "woochi_configured_tokenizer"

	bleveTextField = "text"
)

func init() {
	_ = registry.RegisterTokenizer(TextTokenizerName, textTokenizerConstructor)
}

// BleveLexicalIndex is a LexicalIndex backed by an in-memory bleve index.
// Terms are produced by a Tokenizer built from the same BM25Config as the
// queries, but scores are bleve-native.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	ids    []string
	closed bool
}

// bleveDocument is the document structure for bleve indexing.
type bleveDocument struct {
	Text string `json:"text"`
}

// NewBleveLexicalIndex builds an in-memory bleve index over docs. Only the
// tokenizer settings of cfg apply; bleve does its own scoring.
func NewBleveLexicalIndex(cfg BM25Config, docs []Document) (*BleveLexicalIndex, error) {
	indexMapping, err := createIndexMapping(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}

	ids := make([]string, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	batch := idx.NewBatch()
	for _, doc := range docs {
		if _, dup := seen[doc.ID]; dup {
			_ = idx.Close()
			return nil, fmt.Errorf("duplicate document id %q", doc.ID)
		}
		seen[doc.ID] = struct{}{}
		ids = append(ids, doc.ID)

		if err := batch.Index(doc.ID, bleveDocument{Text: doc.Text}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to execute batch: %w", err)
	}

	sort.Strings(ids)
	return &BleveLexicalIndex{index: idx, ids: ids}, nil
}

func createIndexMapping(cfg BM25Config) (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomTokenizer(configuredTokenizerName, map[string]interface{}{
		"type":             TextTokenizerName,
		"stop_words":       cfg.StopWords,
		"min_token_length": cfg.MinTokenLength,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom tokenizer: %w", err)
	}

	err = indexMapping.AddCustomAnalyzer(TextAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": configuredTokenizerName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = TextAnalyzerName

	return indexMapping, nil
}

// Search runs a disjunction of term queries, one per distinct token.
func (b *BleveLexicalIndex) Search(ctx context.Context, queryTokens []string, k int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if k <= 0 || len(queryTokens) == 0 || len(b.ids) == 0 {
		return []Hit{}, nil
	}

	seen := make(map[string]struct{}, len(queryTokens))
	terms := make([]query.Query, 0, len(queryTokens))
	for _, tok := range queryTokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tq := bleve.NewTermQuery(tok)
		tq.SetField(bleveTextField)
		terms = append(terms, tq)
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(terms...))
	req.Size = k
	req.SortBy([]string{"-_score", "_id"})

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		if h.Score <= 0 {
			continue
		}
		hits = append(hits, Hit{ChunkID: h.ID, Score: h.Score, Source: SourceLexical})
	}
	return topK(hits, k), nil
}

// IDs returns the indexed chunk ids, sorted.
func (b *BleveLexicalIndex) IDs() []string {
	out := make([]string, len(b.ids))
	copy(out, b.ids)
	return out
}

// Count returns the number of indexed documents.
func (b *BleveLexicalIndex) Count() int {
	return len(b.ids)
}

// Close closes the bleve index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

func textTokenizerConstructor(config map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	var cfg BM25Config

	switch words := config["stop_words"].(type) {
	case nil:
	case []string:
		cfg.StopWords = words
	case []interface{}:
		for _, w := range words {
			word, ok := w.(string)
			if !ok {
				return nil, fmt.Errorf("stop_words must be strings, got %T", w)
			}
			cfg.StopWords = append(cfg.StopWords, word)
		}
	default:
		return nil, fmt.Errorf("stop_words must be a list, got %T", words)
	}

	switch n := config["min_token_length"].(type) {
	case nil:
	case int:
		cfg.MinTokenLength = n
	case float64:
		cfg.MinTokenLength = int(n)
	default:
		return nil, fmt.Errorf("min_token_length must be a number, got %T", n)
	}

	return &bleveTextTokenizer{tok: NewTokenizer(cfg)}, nil
}

// bleveTextTokenizer adapts Tokenizer to bleve's analysis.Tokenizer.
type bleveTextTokenizer struct {
	tok *Tokenizer
}

// Tokenize implements analysis.Tokenizer. Offsets are best-effort; only
// terms and positions matter for scoring.
func (t *bleveTextTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := strings.ToLower(string(input))
	tokens := t.tok.Tokenize(string(input))

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, token := range tokens {
		start := offset
		if j := strings.Index(text[offset:], token); j >= 0 {
			start = offset + j
		}
		end := start + len(token)
		if end > len(text) {
			end = len(text)
		}

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})

		// Bigrams overlap, so resume just past the first rune of this token.
		if start < len(text) {
			_, size := utf8.DecodeRuneInString(text[start:])
			offset = start + size
		}
	}
	return result
}
