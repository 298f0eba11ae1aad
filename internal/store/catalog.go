package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Storage backends.
const (
	StorageBackendMemory = "memory"
	StorageBackendSQLite = "sqlite"
	StorageBackendBadger = "badger"
)

// NewCatalog opens the durable catalog for backend under dir.
//
// backend options:
//   - "memory" (default): nothing is persisted
//   - "sqlite": modernc.org/sqlite database at <dir>/catalog.db
//   - "badger": badger key-value store in <dir>/badger
//
// File-backed catalogs take an exclusive lock on dir for their lifetime.
func NewCatalog(backend, dir string) (Catalog, error) {
	switch backend {
	case StorageBackendMemory, "":
		return NopCatalog{}, nil
	case StorageBackendSQLite, StorageBackendBadger:
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (valid options: memory, sqlite, badger)", backend)
	}

	if dir == "" {
		return nil, fmt.Errorf("storage backend %s requires a path", backend)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}

	lock := NewDirLock(dir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}

	var (
		cat Catalog
		err error
	)
	if backend == StorageBackendSQLite {
		cat, err = NewSQLiteCatalog(filepath.Join(dir, "catalog.db"))
	} else {
		cat, err = NewBadgerCatalog(filepath.Join(dir, "badger"))
	}
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return &lockedCatalog{Catalog: cat, lock: lock}, nil
}

// lockedCatalog releases the directory lock after closing the catalog.
type lockedCatalog struct {
	Catalog
	lock *DirLock
}

func (c *lockedCatalog) Close() error {
	err := c.Catalog.Close()
	if uerr := c.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// NopCatalog persists nothing. Collections live only as long as the process.
type NopCatalog struct{}

func (NopCatalog) Append(context.Context, string, []*Chunk, [][]float32) error { return nil }

func (NopCatalog) Load(context.Context, string) ([]*Chunk, [][]float32, error) {
	return nil, nil, nil
}

func (NopCatalog) Collections(context.Context) ([]string, error) { return nil, nil }

func (NopCatalog) Drop(context.Context, string) error { return nil }

func (NopCatalog) Close() error { return nil }

var _ Catalog = NopCatalog{}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}

func checkBatch(chunks []*Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	return nil
}
