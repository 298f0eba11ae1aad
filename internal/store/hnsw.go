package store

import (
	"context"
	"math/rand"

	"github.com/coder/hnsw"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// hnswSeed fixes level generation so the same corpus always builds the same graph.
const hnswSeed = 42

// HNSWIndex is an approximate cosine index backed by coder/hnsw. Candidates
// returned by the graph are rescored exactly, so ordering among them is the
// same as the flat index; recall of the candidate set is approximate.
type HNSWIndex struct {
	graph   *hnsw.Graph[string]
	dims    int
	ids     []string
	vectors map[string]normVector
	ef      int
}

// NewHNSWIndex builds an HNSW graph over the vectors in the given order.
func NewHNSWIndex(cfg VectorIndexConfig, ids []string, vectors [][]float32) (*HNSWIndex, error) {
	dims, err := validateVectors(cfg.Dimensions, ids, vectors)
	if err != nil {
		return nil, err
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 50
	}

	graph := hnsw.NewGraph[string]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	graph.Rng = rand.New(rand.NewSource(hnswSeed))

	idx := &HNSWIndex{
		graph:   graph,
		dims:    dims,
		ids:     make([]string, len(ids)),
		vectors: make(map[string]normVector, len(ids)),
		ef:      cfg.EfSearch,
	}
	copy(idx.ids, ids)

	nodes := make([]hnsw.Node[string], 0, len(ids))
	for i, id := range ids {
		vec := newNormVector(vectors[i])
		idx.vectors[id] = vec
		nodes = append(nodes, hnsw.MakeNode(id, unitVector(vec)))
	}
	if len(nodes) > 0 {
		graph.Add(nodes...)
	}

	return idx, nil
}

// Search asks the graph for max(k, EfSearch) candidates and returns the
// exact top k among them.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || h.graph.Len() == 0 {
		return []Hit{}, nil
	}
	if len(query) != h.dims {
		return nil, woerrors.DimensionMismatch(h.dims, len(query))
	}

	q := newNormVector(query)
	if q.norm == 0 {
		return []Hit{}, nil
	}

	want := k
	if h.ef > want {
		want = h.ef
	}
	nodes := h.graph.Search(unitVector(q), want)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		vec, ok := h.vectors[node.Key]
		if !ok {
			continue
		}
		hits = append(hits, Hit{ChunkID: node.Key, Score: cosine(q, vec), Source: SourceVector})
	}
	return topK(hits, k), nil
}

// IDs returns the indexed chunk ids, sorted.
func (h *HNSWIndex) IDs() []string {
	return sortedCopy(h.ids)
}

// Count returns the number of indexed vectors.
func (h *HNSWIndex) Count() int {
	return len(h.ids)
}

// Dimensions returns the vector length.
func (h *HNSWIndex) Dimensions() int {
	return h.dims
}

// Close is a no-op; the graph is garbage collected with the snapshot.
func (h *HNSWIndex) Close() error {
	return nil
}

var _ VectorIndex = (*HNSWIndex)(nil)
