package collection

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/woochi/internal/embed"
	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/store"
	"github.com/Aman-CERP/woochi/internal/telemetry"
)

// DefaultWorkers is the ingest embedding pool size.
const DefaultWorkers = 4

// Options configures a Registry. Provider is required.
type Options struct {
	Provider embed.Provider

	// Catalog persists ingested batches. Nil keeps everything in memory.
	Catalog store.Catalog

	LexicalBackend string
	BM25           store.BM25Config
	Vector         store.VectorIndexConfig

	// BatchSize is the number of texts per EmbedBatch call.
	BatchSize int
	// Workers bounds concurrent EmbedBatch calls across all collections.
	Workers int

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Registry maps collection names to collections. It is the only mutable
// state shared across queries and is safe for concurrent use.
type Registry struct {
	shared *shared

	mu          sync.RWMutex
	collections map[string]*Collection
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Provider == nil {
		return nil, woerrors.ValidationError("embedding provider is required", nil)
	}
	if opts.Catalog == nil {
		opts.Catalog = store.NopCatalog{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = embed.DefaultBatchSize
	}
	if opts.BM25.K1 == 0 && opts.BM25.B == 0 {
		opts.BM25 = store.DefaultBM25Config()
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}

	return &Registry{
		shared: &shared{
			provider:       opts.Provider,
			catalog:        opts.Catalog,
			pool:           pool,
			lexicalBackend: opts.LexicalBackend,
			bm25:           opts.BM25,
			vector:         opts.Vector,
			batchSize:      opts.BatchSize,
			metrics:        opts.Metrics,
			logger:         opts.Logger,
		},
		collections: make(map[string]*Collection),
	}, nil
}

// GetOrCreate returns the named collection, creating it EMPTY if needed.
func (r *Registry) GetOrCreate(name string) (*Collection, error) {
	if r.shared.closed.Load() {
		return nil, shutdownError()
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.RLock()
	c, ok := r.collections[name]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collections[name]; ok {
		return c, nil
	}
	c = newCollection(name, r.shared)
	r.collections[name] = c
	return c, nil
}

// Get returns the named collection if it exists.
func (r *Registry) Get(name string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	return c, ok
}

// Names returns all collection names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Drop removes a collection: its registry entry, chunk store, both indexes
// and its catalog rows. It waits for an in-flight ingest to finish. If the
// catalog cannot be updated the collection is left untouched.
func (r *Registry) Drop(ctx context.Context, name string) error {
	if r.shared.closed.Load() {
		return shutdownError()
	}
	c, ok := r.Get(name)
	if !ok {
		return woerrors.NotFound("collection", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return woerrors.NotFound("collection", name)
	}

	if err := r.shared.catalog.Drop(ctx, name); err != nil {
		return woerrors.StorageError("failed to drop collection from catalog", err).
			WithDetail("collection", name)
	}

	r.mu.Lock()
	delete(r.collections, name)
	r.mu.Unlock()

	c.drop()
	r.shared.metrics.ForgetCollection(name)
	r.shared.logger.Info("collection_dropped", slog.String("collection", name))
	return nil
}

// Clear drops every collection.
func (r *Registry) Clear(ctx context.Context) error {
	for _, name := range r.Names() {
		if err := r.Drop(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Restore loads every collection stored in the catalog and rebuilds its
// indexes from the stored chunks and embeddings, without calling the
// provider. Restored collections are READY.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.shared.closed.Load() {
		return 0, shutdownError()
	}
	names, err := r.shared.catalog.Collections(ctx)
	if err != nil {
		return 0, woerrors.StorageError("failed to list stored collections", err)
	}

	restored := 0
	for _, name := range names {
		start := time.Now()
		c, err := r.GetOrCreate(name)
		if err != nil {
			return restored, err
		}
		if err := c.restore(ctx); err != nil {
			return restored, err
		}
		restored++
		r.shared.logger.Info("collection_restored",
			slog.String("collection", name),
			slog.Int("chunks", c.Count()),
			slog.Duration("duration", time.Since(start)))
	}
	return restored, nil
}

func (c *Collection) restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunks, vectors, err := c.shared.catalog.Load(ctx, c.name)
	if err != nil {
		return woerrors.StorageError("failed to load collection", err).WithDetail("collection", c.name)
	}

	staged := store.NewMemoryChunkStore(c.name)
	if err := staged.Put(ctx, chunks); err != nil {
		return woerrors.New(woerrors.ErrCodeStorageCorrupt, "stored collection is inconsistent", err).
			WithDetail("collection", c.name)
	}
	snap, err := c.shared.buildSnapshot(ctx, c.name, staged, vectors)
	if err != nil {
		return woerrors.New(woerrors.ErrCodeStorageCorrupt, "failed to rebuild stored collection", err).
			WithDetail("collection", c.name)
	}

	if prev := c.snap.Swap(snap); prev != nil {
		prev.Release()
	}
	c.state.Store(int32(StateReady))
	c.shared.metrics.SetCollectionChunks(c.name, snap.Count())
	return nil
}

// Check compares the chunk store, lexical and vector id sets of a
// collection, and the catalog's when it is durable.
func (r *Registry) Check(ctx context.Context, name string) (*ConsistencyReport, error) {
	start := time.Now()
	c, ok := r.Get(name)
	if !ok {
		return nil, woerrors.NotFound("collection", name)
	}

	report := &ConsistencyReport{
		Collection: name,
		State:      c.State().String(),
	}

	snap, err := c.Snapshot()
	if err != nil {
		if woerrors.GetCode(err) == woerrors.ErrCodeCollectionNotReady {
			report.Duration = time.Since(start)
			return report, nil
		}
		return nil, err
	}
	defer snap.Release()

	chunkIDs := snap.Chunks.IDs()
	lexicalIDs := snap.Lexical.IDs()
	vectorIDs := snap.Vector.IDs()
	report.Chunks = len(chunkIDs)
	report.LexicalIDs = len(lexicalIDs)
	report.VectorIDs = len(vectorIDs)
	report.Inconsistencies = checkIndexes(chunkIDs, lexicalIDs, vectorIDs)

	if _, nop := r.shared.catalog.(store.NopCatalog); !nop {
		stored, _, err := r.shared.catalog.Load(ctx, name)
		if err != nil {
			return nil, woerrors.StorageError("failed to load collection", err).WithDetail("collection", name)
		}
		catalogIDs := make([]string, len(stored))
		for i, ch := range stored {
			catalogIDs[i] = ch.ID
		}
		report.CatalogChecked = true
		report.CatalogIDs = len(catalogIDs)
		report.Inconsistencies = append(report.Inconsistencies,
			compareIDs(chunkIDs, catalogIDs, InconsistencyOrphanCatalog, InconsistencyMissingCatalog)...)
	}

	report.Duration = time.Since(start)
	if !report.Consistent() {
		r.shared.logger.Warn("collection_inconsistent",
			slog.String("collection", name),
			slog.Int("issues", len(report.Inconsistencies)))
	}
	return report, nil
}

// Shutdown rejects further operations, waits for in-flight ingests, and
// releases every snapshot, the worker pool and the catalog.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.shared.closed.Swap(true) {
		return nil
	}

	r.mu.Lock()
	collections := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		collections = append(collections, c)
	}
	r.collections = make(map[string]*Collection)
	r.mu.Unlock()

	for _, c := range collections {
		c.mu.Lock()
		c.drop()
		c.mu.Unlock()
	}

	if err := r.shared.pool.ReleaseTimeout(releaseTimeout(ctx)); err != nil {
		r.shared.logger.Warn("embedding_pool_release_timeout", slog.String("error", err.Error()))
	}
	if err := r.shared.catalog.Close(); err != nil {
		return woerrors.StorageError("failed to close catalog", err)
	}
	return nil
}

func releaseTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return 5 * time.Second
}
