package store

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// posting records a term's frequency in one document.
type posting struct {
	doc int
	tf  int
}

// MemoryBM25Index is an exact, immutable BM25 index held in memory.
//
// Scoring uses the non-negative IDF variant
//
//	idf(t)   = ln(1 + (N - n(t) + 0.5) / (n(t) + 0.5))
//	score(d) = sum over distinct query terms of
//	           idf(t) * tf*(k1+1) / (tf + k1*(1 - b + b*|d|/avgdl))
//
// so every document containing at least one query term scores above zero.
type MemoryBM25Index struct {
	k1, b    float64
	ids      []string // index -> chunk id
	docLen   []int
	avgDocLn float64
	postings map[string][]posting
}

// NewMemoryBM25Index builds an index over docs. Tokenization uses cfg's
// stop words and minimum token length; queries must be tokenized with the
// same settings.
func NewMemoryBM25Index(cfg BM25Config, docs []Document) (*MemoryBM25Index, error) {
	if cfg.K1 <= 0 {
		cfg.K1 = DefaultBM25Config().K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		return nil, fmt.Errorf("bm25 b must be within [0,1], got %v", cfg.B)
	}

	tok := NewTokenizer(cfg)
	idx := &MemoryBM25Index{
		k1:       cfg.K1,
		b:        cfg.B,
		ids:      make([]string, len(docs)),
		docLen:   make([]int, len(docs)),
		postings: make(map[string][]posting),
	}

	seen := make(map[string]struct{}, len(docs))
	total := 0
	for i, d := range docs {
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("duplicate document id %q", d.ID)
		}
		seen[d.ID] = struct{}{}

		terms := tok.Tokenize(d.Text)
		idx.ids[i] = d.ID
		idx.docLen[i] = len(terms)
		total += len(terms)

		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}
		for term, n := range tf {
			idx.postings[term] = append(idx.postings[term], posting{doc: i, tf: n})
		}
	}
	if len(docs) > 0 {
		idx.avgDocLn = float64(total) / float64(len(docs))
	}

	return idx, nil
}

// Search scores every document containing a query term and returns the top k.
func (m *MemoryBM25Index) Search(ctx context.Context, queryTokens []string, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(m.ids) == 0 {
		return []Hit{}, nil
	}

	n := float64(len(m.ids))
	scores := make(map[int]float64)
	seen := make(map[string]struct{}, len(queryTokens))
	for _, term := range queryTokens {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		plist := m.postings[term]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for _, p := range plist {
			tf := float64(p.tf)
			norm := 1.0
			if m.avgDocLn > 0 {
				norm = 1 - m.b + m.b*float64(m.docLen[p.doc])/m.avgDocLn
			}
			scores[p.doc] += idf * tf * (m.k1 + 1) / (tf + m.k1*norm)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for doc, s := range scores {
		if s <= 0 {
			continue
		}
		hits = append(hits, Hit{ChunkID: m.ids[doc], Score: s, Source: SourceLexical})
	}
	return topK(hits, k), nil
}

// IDs returns the indexed chunk ids, sorted.
func (m *MemoryBM25Index) IDs() []string {
	ids := make([]string, len(m.ids))
	copy(ids, m.ids)
	sort.Strings(ids)
	return ids
}

// Count returns the number of indexed documents.
func (m *MemoryBM25Index) Count() int {
	return len(m.ids)
}

// Close is a no-op; the index holds no external resources.
func (m *MemoryBM25Index) Close() error {
	return nil
}

var _ LexicalIndex = (*MemoryBM25Index)(nil)
