package store

import (
	"context"
	"fmt"
	"math"
	"sort"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// Vector index backends.
const (
	VectorBackendFlat = "flat"
	VectorBackendHNSW = "hnsw"
)

// NewVectorIndex builds an immutable vector index from parallel id and
// vector slices.
//
// backend options:
//   - "flat" (default): exact brute-force cosine, fully deterministic
//   - "hnsw": coder/hnsw graph, approximate, for large collections
func NewVectorIndex(cfg VectorIndexConfig, ids []string, vectors [][]float32) (VectorIndex, error) {
	switch cfg.Backend {
	case VectorBackendFlat, "":
		return NewFlatIndex(cfg, ids, vectors)
	case VectorBackendHNSW:
		return NewHNSWIndex(cfg, ids, vectors)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: flat, hnsw)", cfg.Backend)
	}
}

// FlatIndex scores every stored vector against the query.
type FlatIndex struct {
	dims    int
	ids     []string
	vectors []normVector
}

// NewFlatIndex builds an exact cosine index. Vectors are copied.
func NewFlatIndex(cfg VectorIndexConfig, ids []string, vectors [][]float32) (*FlatIndex, error) {
	dims, err := validateVectors(cfg.Dimensions, ids, vectors)
	if err != nil {
		return nil, err
	}

	idx := &FlatIndex{
		dims:    dims,
		ids:     make([]string, len(ids)),
		vectors: make([]normVector, len(vectors)),
	}
	copy(idx.ids, ids)
	for i, v := range vectors {
		idx.vectors[i] = newNormVector(v)
	}
	return idx, nil
}

// Search returns the k most similar chunks.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(f.ids) == 0 {
		return []Hit{}, nil
	}
	if len(query) != f.dims {
		return nil, woerrors.DimensionMismatch(f.dims, len(query))
	}

	q := newNormVector(query)
	if q.norm == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, len(f.ids))
	for i, v := range f.vectors {
		hits[i] = Hit{ChunkID: f.ids[i], Score: cosine(q, v), Source: SourceVector}
	}
	return topK(hits, k), nil
}

// IDs returns the indexed chunk ids, sorted.
func (f *FlatIndex) IDs() []string {
	return sortedCopy(f.ids)
}

// Count returns the number of indexed vectors.
func (f *FlatIndex) Count() int {
	return len(f.ids)
}

// Dimensions returns the vector length.
func (f *FlatIndex) Dimensions() int {
	return f.dims
}

// Close is a no-op.
func (f *FlatIndex) Close() error {
	return nil
}

var _ VectorIndex = (*FlatIndex)(nil)

// validateVectors checks that ids are unique and every vector has the same
// length, returning that length.
func validateVectors(want int, ids []string, vectors [][]float32) (int, error) {
	if len(ids) != len(vectors) {
		return 0, fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	dims := want
	seen := make(map[string]struct{}, len(ids))
	for i, v := range vectors {
		if _, dup := seen[ids[i]]; dup {
			return 0, fmt.Errorf("duplicate vector id %q", ids[i])
		}
		seen[ids[i]] = struct{}{}

		if dims == 0 {
			dims = len(v)
		}
		if len(v) != dims {
			return 0, woerrors.DimensionMismatch(dims, len(v)).WithDetail("chunk_id", ids[i])
		}
	}
	return dims, nil
}

// scoreScale sets the resolution of cosine scores to 1e-9. Vectors pointing
// the same way score identically and fall back to id order.
const scoreScale = 1e9

// normVector is a stored vector with its float64 magnitude.
type normVector struct {
	v    []float32
	norm float64
}

func newNormVector(v []float32) normVector {
	out := make([]float32, len(v))
	copy(out, v)
	var sumSquares float64
	for _, val := range out {
		sumSquares += float64(val) * float64(val)
	}
	return normVector{v: out, norm: math.Sqrt(sumSquares)}
}

// cosine computes a.b / (|a| |b|) in float64 from the raw components.
// Zero vectors score 0.
func cosine(a, b normVector) float64 {
	if a.norm == 0 || b.norm == 0 || len(a.v) != len(b.v) {
		return 0
	}
	var sum float64
	for i := range a.v {
		sum += float64(a.v[i]) * float64(b.v[i])
	}
	s := sum / (a.norm * b.norm)
	s = math.Max(-1, math.Min(1, s))
	return math.Round(s*scoreScale) / scoreScale
}

// unitVector returns v scaled to unit length as float32, for the HNSW graph.
func unitVector(v normVector) []float32 {
	out := make([]float32, len(v.v))
	if v.norm == 0 {
		return out
	}
	for i, x := range v.v {
		out[i] = float32(float64(x) / v.norm)
	}
	return out
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
