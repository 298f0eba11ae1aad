// Package collection owns the per-collection lifecycle: the EMPTY, BUILDING
// and READY states, atomic ingest into immutable snapshots, durable
// persistence through the catalog, and the registry that maps names to
// collections.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/woochi/internal/embed"
	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/store"
	"github.com/Aman-CERP/woochi/internal/telemetry"
)

// State is a collection's lifecycle state.
type State int32

const (
	StateEmpty State = iota
	StateBuilding
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateBuilding:
		return "BUILDING"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is the immutable query view of a READY collection. Callers of
// Collection.Snapshot must call Release when done with it.
type Snapshot struct {
	Chunks    *store.MemoryChunkStore
	Lexical   store.LexicalIndex
	Vector    store.VectorIndex
	Tokenizer *store.Tokenizer
	BuiltAt   time.Time

	// vectors parallels Chunks.IDs() and feeds the next rebuild.
	vectors [][]float32

	// refs counts the owning collection plus every outstanding reader.
	refs atomic.Int64
}

func (s *Snapshot) acquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The last release closes the indexes.
func (s *Snapshot) Release() {
	if s == nil {
		return
	}
	if s.refs.Add(-1) == 0 {
		if s.Lexical != nil {
			_ = s.Lexical.Close()
		}
		if s.Vector != nil {
			_ = s.Vector.Close()
		}
	}
}

// Count returns the number of chunks in the snapshot.
func (s *Snapshot) Count() int {
	return s.Chunks.Count()
}

// shared is the state every collection of one registry uses.
type shared struct {
	provider       embed.Provider
	catalog        store.Catalog
	pool           *ants.Pool
	lexicalBackend string
	bm25           store.BM25Config
	vector         store.VectorIndexConfig
	batchSize      int
	metrics        *telemetry.Metrics
	logger         *slog.Logger
	closed         atomic.Bool
}

// Collection is a named partition with its own chunk store and indexes.
type Collection struct {
	name   string
	shared *shared

	// mu serializes ingest and drop.
	mu      sync.Mutex
	state   atomic.Int32
	snap    atomic.Pointer[Snapshot]
	dropped bool
}

func newCollection(name string, sh *shared) *Collection {
	return &Collection{name: name, shared: sh}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Collection) State() State { return State(c.state.Load()) }

// Count returns the number of chunks in the current snapshot.
func (c *Collection) Count() int {
	if s := c.snap.Load(); s != nil {
		return s.Count()
	}
	return 0
}

// Snapshot returns the READY snapshot with a reference held, or a
// CollectionNotReady error when the collection was never ingested or is
// building.
func (c *Collection) Snapshot() (*Snapshot, error) {
	if c.shared.closed.Load() {
		return nil, shutdownError()
	}
	for {
		st := c.State()
		if st != StateReady {
			return nil, woerrors.CollectionNotReady(c.name, st.String())
		}
		s := c.snap.Load()
		if s == nil {
			return nil, woerrors.CollectionNotReady(c.name, StateEmpty.String())
		}
		if s.acquire() {
			return s, nil
		}
		// Swapped while acquiring; reload.
	}
}

// ProgressFunc receives the number of chunks embedded so far out of the
// batch total. Calls are serialized and done never decreases.
type ProgressFunc func(done, total int)

type ingestOptions struct {
	progress ProgressFunc
}

// IngestOption configures a single Ingest call.
type IngestOption func(*ingestOptions)

// WithProgress reports embedding progress to fn.
func WithProgress(fn ProgressFunc) IngestOption {
	return func(o *ingestOptions) { o.progress = fn }
}

// Ingest adds chunks to the collection as one atomic unit. The batch is
// validated before any embedding work; on any failure the collection keeps
// its previous state and snapshot.
func (c *Collection) Ingest(ctx context.Context, chunks []*store.Chunk, opts ...IngestOption) (err error) {
	var o ingestOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	defer func() {
		outcome := telemetry.OutcomeOK
		if err != nil {
			outcome = telemetry.OutcomeError
			attrs := append([]any{slog.String("collection", c.name), slog.Int("chunks", len(chunks))},
				woerrors.FormatForLog(err)...)
			c.shared.logger.Warn("ingest_failed", attrs...)
		}
		c.shared.metrics.ObserveIngest(c.name, outcome, len(chunks))
	}()

	if c.shared.closed.Load() {
		return shutdownError()
	}
	batch, err := c.prepare(chunks)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dropped {
		return woerrors.NotFound("collection", c.name)
	}
	if c.shared.closed.Load() {
		return shutdownError()
	}

	prevState := c.State()
	prev := c.snap.Load()
	if len(batch) == 0 && prev != nil {
		return nil
	}

	c.state.Store(int32(StateBuilding))
	next, err := c.build(ctx, prev, batch, o.progress)
	if err != nil {
		c.state.Store(int32(prevState))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, woerrors.ErrDuplicateID) {
			return err
		}
		return woerrors.IngestFailed(c.name, err)
	}

	c.snap.Store(next)
	c.state.Store(int32(StateReady))
	if prev != nil {
		prev.Release()
	}

	c.shared.metrics.SetCollectionChunks(c.name, next.Count())
	c.shared.logger.Info("ingest_committed",
		slog.String("collection", c.name),
		slog.Int("chunks", len(batch)),
		slog.Int("total", next.Count()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// prepare validates and copies the batch. Duplicates within the batch and
// against the current snapshot are rejected here so no embedding is wasted.
func (c *Collection) prepare(chunks []*store.Chunk) ([]*store.Chunk, error) {
	current := c.snap.Load()

	batch := make([]*store.Chunk, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for i, ch := range chunks {
		if ch == nil || ch.ID == "" {
			return nil, woerrors.IngestFailed(c.name,
				woerrors.ValidationError(fmt.Sprintf("chunk %d has an empty id", i), nil))
		}
		if strings.TrimSpace(ch.Text) == "" {
			return nil, woerrors.IngestFailed(c.name,
				woerrors.ValidationError(fmt.Sprintf("chunk %q has empty text", ch.ID), nil))
		}
		if _, dup := seen[ch.ID]; dup {
			return nil, woerrors.DuplicateID(c.name, ch.ID)
		}
		seen[ch.ID] = struct{}{}
		if current != nil {
			if _, err := current.Chunks.Get(context.Background(), ch.ID); err == nil {
				return nil, woerrors.DuplicateID(c.name, ch.ID)
			}
		}

		cp := ch.Clone()
		cp.Collection = c.name
		batch = append(batch, cp)
	}
	return batch, nil
}

// build stages a clone of the chunk store, embeds the batch, rebuilds both
// indexes over the full corpus, verifies them and persists the batch.
func (c *Collection) build(ctx context.Context, prev *Snapshot, batch []*store.Chunk, progress ProgressFunc) (*Snapshot, error) {
	var (
		staged  *store.MemoryChunkStore
		vectors [][]float32
	)
	if prev != nil {
		staged = prev.Chunks.Clone()
		vectors = make([][]float32, len(prev.vectors), len(prev.vectors)+len(batch))
		copy(vectors, prev.vectors)
	} else {
		staged = store.NewMemoryChunkStore(c.name)
	}

	if err := staged.Put(ctx, batch); err != nil {
		return nil, err
	}

	texts := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Text
	}
	embedded, err := c.embedAll(ctx, texts, progress)
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, embedded...)

	snap, err := c.shared.buildSnapshot(ctx, c.name, staged, vectors)
	if err != nil {
		return nil, err
	}

	if err := c.shared.catalog.Append(ctx, c.name, batch, embedded); err != nil {
		snap.Release()
		return nil, woerrors.StorageError("failed to persist ingest batch", err)
	}
	return snap, nil
}

// buildSnapshot builds and verifies indexes over a full chunk store.
func (sh *shared) buildSnapshot(ctx context.Context, name string, chunks *store.MemoryChunkStore, vectors [][]float32) (*Snapshot, error) {
	all, err := chunks.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) != len(vectors) {
		return nil, fmt.Errorf("have %d chunks but %d vectors", len(all), len(vectors))
	}

	docs := make([]store.Document, len(all))
	ids := make([]string, len(all))
	for i, ch := range all {
		docs[i] = store.Document{ID: ch.ID, Text: ch.Text}
		ids[i] = ch.ID
	}

	lexical, err := store.NewLexicalIndex(sh.lexicalBackend, sh.bm25, docs)
	if err != nil {
		return nil, fmt.Errorf("build lexical index: %w", err)
	}
	vector, err := store.NewVectorIndex(sh.vector, ids, vectors)
	if err != nil {
		_ = lexical.Close()
		return nil, fmt.Errorf("build vector index: %w", err)
	}

	if issues := checkIndexes(chunks.IDs(), lexical.IDs(), vector.IDs()); len(issues) > 0 {
		_ = lexical.Close()
		_ = vector.Close()
		return nil, woerrors.IndexDiverged(name,
			fmt.Sprintf("%d id mismatches after rebuild, first %s %s", len(issues), issues[0].Type, issues[0].ChunkID))
	}

	snap := &Snapshot{
		Chunks:    chunks,
		Lexical:   lexical,
		Vector:    vector,
		Tokenizer: store.NewTokenizer(sh.bm25),
		BuiltAt:   time.Now(),
		vectors:   vectors,
	}
	snap.refs.Store(1)
	return snap, nil
}

// embedAll embeds texts in batches on the shared worker pool, preserving
// order. The first failure cancels the remaining batches.
func (c *Collection) embedAll(ctx context.Context, texts []string, progress ProgressFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	size := c.shared.batchSize
	if size <= 0 {
		size = embed.DefaultBatchSize
	}

	out := make([][]float32, len(texts))
	var (
		wg         sync.WaitGroup
		progressMu sync.Mutex
		done       int
	)
	report := func(n int) {
		if progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		done += n
		progress(done, len(texts))
	}
	for start := 0; start < len(texts); start += size {
		if ctx.Err() != nil {
			break
		}
		end := min(start+size, len(texts))

		wg.Add(1)
		err := c.shared.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := c.shared.provider.EmbedBatch(ctx, texts[start:end])
			if err == nil && len(vecs) != end-start {
				err = fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), end-start)
			}
			if err != nil {
				cancel(err)
				return
			}
			copy(out[start:end], vecs)
			report(end - start)
		})
		if err != nil {
			wg.Done()
			cancel(fmt.Errorf("submit embedding batch: %w", err))
			break
		}
	}
	wg.Wait()

	if err := context.Cause(ctx); err != nil {
		if code := woerrors.GetCode(err); code != "" {
			c.shared.metrics.ProviderError("embed_batch", code)
		}
		return nil, err
	}
	return out, nil
}

// drop releases the snapshot and resets the collection. Callers hold c.mu.
func (c *Collection) drop() {
	c.dropped = true
	c.state.Store(int32(StateEmpty))
	if s := c.snap.Swap(nil); s != nil {
		s.Release()
	}
}

func shutdownError() error {
	return woerrors.New(woerrors.ErrCodeShutdown, "collection registry is shut down", nil)
}
