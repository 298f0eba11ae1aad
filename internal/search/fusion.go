// Package search provides hybrid retrieval combining BM25 and vector search.
// The two ranked lists are min-max normalized and fused by weighted sum.
package search

import (
	"fmt"
	"math"
	"sort"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/store"
)

// weightTolerance bounds the rounding error accepted in Weights sums.
const weightTolerance = 1e-9

// Weights configures the relative importance of lexical and vector search.
type Weights struct {
	// Lexical is the weight for BM25 (0-1, default 0.5).
	Lexical float64 `json:"lexical"`

	// Vector is the weight for cosine similarity (0-1, default 0.5).
	Vector float64 `json:"vector"`
}

// DefaultWeights returns equal lexical and vector weights.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.5, Vector: 0.5}
}

// LexicalOnly returns weights that ignore the vector signal.
func LexicalOnly() Weights { return Weights{Lexical: 1} }

// VectorOnly returns weights that ignore the lexical signal.
func VectorOnly() Weights { return Weights{Vector: 1} }

// Validate requires both weights in [0,1] summing to 1.
func (w Weights) Validate() error {
	if math.IsNaN(w.Lexical) || w.Lexical < 0 || w.Lexical > 1 {
		return woerrors.ValidationError(fmt.Sprintf("lexical weight must be within [0,1], got %v", w.Lexical), nil)
	}
	if math.IsNaN(w.Vector) || w.Vector < 0 || w.Vector > 1 {
		return woerrors.ValidationError(fmt.Sprintf("vector weight must be within [0,1], got %v", w.Vector), nil)
	}
	if math.Abs(w.Lexical+w.Vector-1) > weightTolerance {
		return woerrors.ValidationError(
			fmt.Sprintf("weights must sum to 1, got %v + %v", w.Lexical, w.Vector), nil)
	}
	return nil
}

// Fused is one entry of the fused ranking.
type Fused struct {
	ChunkID string
	// Score is Lexical*LexicalScore + Vector*VectorScore.
	Score float64
	// LexicalScore and VectorScore are the min-max normalized per-list
	// scores, 0 when the chunk is absent from that list.
	LexicalScore float64
	VectorScore  float64
	InLexical    bool
	InVector     bool
}

// Normalize min-max scales a ranked list to [0,1]. A non-empty list whose
// scores are all equal maps to 1.0. If an id repeats, its best score is
// kept. The input is not modified.
func Normalize(hits []store.Hit) []store.Hit {
	if len(hits) == 0 {
		return []store.Hit{}
	}

	out := make([]store.Hit, 0, len(hits))
	index := make(map[string]int, len(hits))
	for _, h := range hits {
		if i, dup := index[h.ChunkID]; dup {
			if h.Score > out[i].Score {
				out[i].Score = h.Score
			}
			continue
		}
		index[h.ChunkID] = len(out)
		out = append(out, h)
	}

	lo, hi := out[0].Score, out[0].Score
	for _, h := range out[1:] {
		lo = math.Min(lo, h.Score)
		hi = math.Max(hi, h.Score)
	}

	span := hi - lo
	for i := range out {
		if span == 0 {
			out[i].Score = 1
		} else {
			out[i].Score = (out[i].Score - lo) / span
		}
	}
	return out
}

// Fuse combines the lexical and vector lists into one ranking of at most k
// entries, sorted by score descending then chunk id ascending. k <= 0
// returns every fused entry. An empty list contributes nothing, so the
// result is then the other list's normalized order scaled by its weight.
func Fuse(lexical, vector []store.Hit, w Weights, k int) []Fused {
	byID := make(map[string]*Fused, len(lexical)+len(vector))
	get := func(id string) *Fused {
		if f, ok := byID[id]; ok {
			return f
		}
		f := &Fused{ChunkID: id}
		byID[id] = f
		return f
	}

	for _, h := range Normalize(lexical) {
		f := get(h.ChunkID)
		f.LexicalScore = h.Score
		f.InLexical = true
	}
	for _, h := range Normalize(vector) {
		f := get(h.ChunkID)
		f.VectorScore = h.Score
		f.InVector = true
	}

	out := make([]Fused, 0, len(byID))
	for _, f := range byID {
		f.Score = w.Lexical*f.LexicalScore + w.Vector*f.VectorScore
		out = append(out, *f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
