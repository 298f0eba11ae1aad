package store

import (
	"context"
	"sync"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// MemoryChunkStore is an append-only in-memory ChunkStore that keeps
// insertion order.
type MemoryChunkStore struct {
	collection string

	mu     sync.RWMutex
	chunks []*Chunk
	byID   map[string]int
}

// NewMemoryChunkStore creates an empty store for the named collection.
func NewMemoryChunkStore(collection string) *MemoryChunkStore {
	return &MemoryChunkStore{
		collection: collection,
		byID:       make(map[string]int),
	}
}

// Clone returns an independent copy. Chunks themselves are immutable once
// stored, so they are shared.
func (s *MemoryChunkStore) Clone() *MemoryChunkStore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &MemoryChunkStore{
		collection: s.collection,
		chunks:     make([]*Chunk, len(s.chunks), len(s.chunks)+1),
		byID:       make(map[string]int, len(s.byID)),
	}
	copy(out.chunks, s.chunks)
	for id, i := range s.byID {
		out.byID[id] = i
	}
	return out
}

// Put inserts chunks, or none of them if any id conflicts.
func (s *MemoryChunkStore) Put(ctx context.Context, chunks []*Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if c == nil || c.ID == "" {
			return woerrors.ValidationError("chunk id must not be empty", nil).
				WithDetail("collection", s.collection)
		}
		if c.Text == "" {
			return woerrors.ValidationError("chunk text must not be empty", nil).
				WithDetail("collection", s.collection).
				WithDetail("chunk_id", c.ID)
		}
		if _, dup := s.byID[c.ID]; dup {
			return woerrors.DuplicateID(s.collection, c.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return woerrors.DuplicateID(s.collection, c.ID)
		}
		seen[c.ID] = struct{}{}
	}

	for _, c := range chunks {
		stored := c.Clone()
		stored.Collection = s.collection
		s.byID[stored.ID] = len(s.chunks)
		s.chunks = append(s.chunks, stored)
	}
	return nil
}

// Get returns a copy of the chunk with the given id.
func (s *MemoryChunkStore) Get(_ context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, woerrors.NotFound("chunk", id).WithDetail("collection", s.collection)
	}
	return s.chunks[i].Clone(), nil
}

// ListAll returns copies of all chunks in insertion order.
func (s *MemoryChunkStore) ListAll(ctx context.Context) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Chunk, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = c.Clone()
	}
	return out, nil
}

// IDs returns chunk ids in insertion order.
func (s *MemoryChunkStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.chunks))
	for i, c := range s.chunks {
		ids[i] = c.ID
	}
	return ids
}

// Count returns the number of stored chunks.
func (s *MemoryChunkStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

var _ ChunkStore = (*MemoryChunkStore)(nil)
