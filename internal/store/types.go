// Package store provides the per-collection storage layer: the canonical
// chunk store, the BM25 lexical index, the cosine vector index, and the
// durable catalog that lets collections survive a restart.
//
// Indexes are immutable once built. A collection that receives new chunks
// builds fresh indexes from its full corpus and swaps them in wholesale, so
// nothing in this package needs query-time locking.
package store

import (
	"context"
	"maps"
	"sort"
)

// Source identifies which index produced a Hit.
type Source string

const (
	SourceLexical Source = "LEXICAL"
	SourceVector  Source = "VECTOR"
)

// Chunk is a unit of indexed text with a stable identifier.
type Chunk struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Collection string            `json:"collection,omitempty"`
}

// Well-known metadata keys. The core never interprets them.
const (
	MetaTitle     = "title"
	MetaSourceURL = "source_url"
	MetaCategory  = "category"
	MetaLevel     = "level"
	MetaDocID     = "doc_id"
)

// Clone returns a deep copy of the chunk.
func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	out := *c
	if c.Metadata != nil {
		out.Metadata = maps.Clone(c.Metadata)
	}
	return &out
}

// Hit is one entry of a ranked list produced by an index.
type Hit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
	Source  Source  `json:"source"`
}

// Document is the lexical index's view of a chunk.
type Document struct {
	ID   string
	Text string
}

// ChunkStore holds the canonical passages of one collection.
// It is append-only: chunks are never updated or removed individually.
type ChunkStore interface {
	// Put inserts chunks. It fails with a DuplicateID error if any id already
	// exists or repeats within the batch, in which case nothing is inserted.
	Put(ctx context.Context, chunks []*Chunk) error

	// Get returns a copy of the chunk, or a NotFound error.
	Get(ctx context.Context, id string) (*Chunk, error)

	// ListAll returns copies of all chunks in insertion order.
	ListAll(ctx context.Context) ([]*Chunk, error)

	// IDs returns chunk ids in insertion order.
	IDs() []string

	// Count returns the number of chunks.
	Count() int
}

// LexicalIndex ranks chunks by keyword relevance.
type LexicalIndex interface {
	// Search returns the top-k hits for pre-tokenized query terms, sorted by
	// score descending then chunk id ascending. Hits with score <= 0 are
	// never returned.
	Search(ctx context.Context, queryTokens []string, k int) ([]Hit, error)

	// IDs returns the indexed chunk ids, sorted.
	IDs() []string

	// Count returns the number of indexed documents.
	Count() int

	// Close releases backend resources.
	Close() error
}

// VectorIndex ranks chunks by cosine similarity to a query embedding.
type VectorIndex interface {
	// Search returns the top-k hits for the query vector, sorted by
	// similarity descending then chunk id ascending.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// IDs returns the indexed chunk ids, sorted.
	IDs() []string

	// Count returns the number of indexed vectors.
	Count() int

	// Dimensions returns the vector length, or 0 for an empty index.
	Dimensions() int

	// Close releases backend resources.
	Close() error
}

// Catalog persists collections so they can be restored after a restart
// without re-embedding.
type Catalog interface {
	// Append durably adds chunks and their embeddings to a collection in a
	// single transaction. An empty batch registers the collection.
	Append(ctx context.Context, collection string, chunks []*Chunk, vectors [][]float32) error

	// Load returns a collection's chunks and embeddings in insertion order.
	Load(ctx context.Context, collection string) ([]*Chunk, [][]float32, error)

	// Collections returns the names of all stored collections, sorted.
	Collections(ctx context.Context) ([]string, error)

	// Drop removes a collection and all its rows.
	Drop(ctx context.Context, collection string) error

	// Close releases the underlying database.
	Close() error
}

// BM25Config holds BM25 scoring parameters.
type BM25Config struct {
	// K1 controls term frequency saturation. Default 1.5.
	K1 float64

	// B controls document length normalization (0-1). Default 0.75.
	B float64

	// StopWords are dropped from both documents and queries.
	StopWords []string

	// MinTokenLength drops tokens shorter than this many runes.
	MinTokenLength int
}

// DefaultBM25Config returns the standard BM25 parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.5,
		B:              0.75,
		MinTokenLength: 1,
	}
}

// VectorIndexConfig configures vector index construction.
type VectorIndexConfig struct {
	// Backend is "flat" (exact) or "hnsw" (approximate).
	Backend string

	// Dimensions is the expected vector length. 0 accepts the length of the
	// first vector.
	Dimensions int

	// M is the max connections per HNSW node. Default 16.
	M int

	// EfSearch is the HNSW search width. Default 50.
	EfSearch int
}

// DefaultVectorIndexConfig returns the exact flat index configuration.
func DefaultVectorIndexConfig() VectorIndexConfig {
	return VectorIndexConfig{
		Backend:  VectorBackendFlat,
		M:        16,
		EfSearch: 50,
	}
}

// sortHits orders hits by score descending, then chunk id ascending.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

// topK sorts hits and truncates to k.
func topK(hits []Hit, k int) []Hit {
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
