package woochi

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/woochi/internal/config"
	"github.com/Aman-CERP/woochi/internal/embed"
	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/search"
	"github.com/Aman-CERP/woochi/internal/store"
)

const testCollection = "meditation_recursive"

// trackingProvider records whether Close was called.
type trackingProvider struct {
	*embed.StaticProvider
	closed atomic.Bool
}

func (p *trackingProvider) Close() error {
	p.closed.Store(true)
	return nil
}

func testChunks() []*Chunk {
	return []*Chunk{
		{ID: "A", Text: "복식호흡의 기초", Metadata: map[string]string{store.MetaTitle: "breathing"}},
		{ID: "B", Text: "마음챙김 기초"},
		{ID: "C", Text: "걷기 명상"},
	}
}

func quietLogger() Option {
	return WithLogger(slog.New(slog.DiscardHandler))
}

func memoryConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Storage.Backend = store.StorageBackendMemory
	return cfg
}

func sqliteConfig(dir string) *config.Config {
	cfg := config.NewConfig()
	cfg.Storage.Backend = store.StorageBackendSQLite
	cfg.Storage.Path = dir
	return cfg
}

func openEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := Open(context.Background(), cfg, append([]Option{quietLogger()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOpen_NilConfigUsesMemory(t *testing.T) {
	// Given: no configuration
	// When: opening an engine
	e := openEngine(t, nil)

	// Then: the defaults apply with nothing persisted
	assert.Equal(t, store.StorageBackendMemory, e.Config().Storage.Backend)
	assert.Equal(t, 5, e.Config().Retrieval.DefaultK)
	assert.Empty(t, e.Collections())
}

func TestOpen_InvalidConfig(t *testing.T) {
	// Given: weights that do not sum to one
	cfg := memoryConfig()
	cfg.Retrieval.LexicalWeight = 0.7

	// When: opening an engine
	_, err := Open(context.Background(), cfg, quietLogger())

	// Then: a configuration error is returned
	require.Error(t, err)
	assert.Equal(t, woerrors.ErrCodeConfigInvalid, woerrors.GetCode(err))
}

func TestEngine_IngestAndRetrieve(t *testing.T) {
	// Given: an engine with one ingested collection
	e := openEngine(t, memoryConfig())
	ctx := context.Background()
	require.NoError(t, e.Ingest(ctx, testCollection, testChunks()))

	// When: retrieving lexically for a term only A contains
	results, err := e.RetrieveWithWeights(ctx, testCollection, "호흡", 3, search.LexicalOnly())

	// Then: A ranks first with its stored text and metadata
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "A", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "복식호흡의 기초", results[0].Text)
	assert.Equal(t, "breathing", results[0].Metadata[store.MetaTitle])
}

func TestEngine_IngestWithProgress(t *testing.T) {
	e := openEngine(t, memoryConfig())

	var last [2]int
	err := e.Ingest(context.Background(), CollectionName("meditation", "recursive"), testChunks(),
		WithProgress(func(done, total int) { last = [2]int{done, total} }))

	require.NoError(t, err)
	assert.Equal(t, [2]int{3, 3}, last)
	assert.Equal(t, []string{"meditation_recursive"}, collectionNames(e.Collections()))
}

func collectionNames(infos []CollectionInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

func TestEngine_RetrieveDefaultWeights(t *testing.T) {
	// Given: an engine with the static provider
	e := openEngine(t, memoryConfig())
	ctx := context.Background()
	require.NoError(t, e.Ingest(ctx, testCollection, testChunks()))

	// When: retrieving with the configured weights and k <= 0
	results, err := e.Retrieve(ctx, testCollection, "호흡", 0)

	// Then: every chunk appears at most once within the default k
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 5)
	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.ChunkID], "duplicate %s", r.ChunkID)
		seen[r.ChunkID] = true
	}
	assert.True(t, seen["A"])
}

func TestEngine_RetrieveNotReady(t *testing.T) {
	e := openEngine(t, memoryConfig())

	_, err := e.Retrieve(context.Background(), "never_ingested", "호흡", 3)

	require.Error(t, err)
	assert.True(t, errors.Is(err, woerrors.ErrCollectionNotReady))
}

func TestEngine_Collections(t *testing.T) {
	// Given: two collections ingested out of order
	e := openEngine(t, memoryConfig())
	ctx := context.Background()
	require.NoError(t, e.Ingest(ctx, "zeta_flat", testChunks()[:1]))
	require.NoError(t, e.Ingest(ctx, "alpha_flat", testChunks()))

	// When: listing
	infos := e.Collections()

	// Then: they come back sorted by name with their counts
	require.Len(t, infos, 2)
	assert.Equal(t, CollectionInfo{Name: "alpha_flat", State: "READY", Chunks: 3}, infos[0])
	assert.Equal(t, CollectionInfo{Name: "zeta_flat", State: "READY", Chunks: 1}, infos[1])
}

func TestEngine_DropAndCheck(t *testing.T) {
	e := openEngine(t, memoryConfig())
	ctx := context.Background()
	require.NoError(t, e.Ingest(ctx, testCollection, testChunks()))

	report, err := e.Check(ctx, testCollection)
	require.NoError(t, err)
	assert.True(t, report.Consistent())

	require.NoError(t, e.Drop(ctx, testCollection))
	assert.Empty(t, e.Collections())

	err = e.Drop(ctx, testCollection)
	assert.True(t, errors.Is(err, woerrors.ErrNotFound))
}

func TestEngine_QueryStats(t *testing.T) {
	e := openEngine(t, memoryConfig())
	ctx := context.Background()
	require.NoError(t, e.Ingest(ctx, testCollection, testChunks()))

	_, err := e.Retrieve(ctx, testCollection, "호흡", 3)
	require.NoError(t, err)
	_, err = e.Retrieve(ctx, testCollection, "명상", 3)
	require.NoError(t, err)

	assert.Equal(t, int64(2), e.QueryStats().TotalQueries)

	families, err := e.Metrics().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "woochi_retrievals_total")
}

func TestEngine_ProviderOwnership(t *testing.T) {
	// Given: a caller-owned provider
	p := &trackingProvider{StaticProvider: embed.NewStaticProvider(0)}
	e, err := Open(context.Background(), memoryConfig(), quietLogger(), WithProvider(p))
	require.NoError(t, err)

	// When: closing the engine twice
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	// Then: the provider is left open
	assert.False(t, p.closed.Load())
}

func TestEngine_ClosedRejectsIngest(t *testing.T) {
	e, err := Open(context.Background(), memoryConfig(), quietLogger())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	err = e.Ingest(context.Background(), testCollection, testChunks())
	assert.True(t, errors.Is(err, woerrors.ErrShutdown))
}

func TestEngine_ReopenRestoresFromSQLite(t *testing.T) {
	// Given: a collection ingested into a sqlite-backed engine
	dir := t.TempDir()
	ctx := context.Background()
	first, err := Open(ctx, sqliteConfig(dir), quietLogger())
	require.NoError(t, err)
	require.NoError(t, first.Ingest(ctx, testCollection, testChunks()))
	require.NoError(t, first.Close())

	// When: reopening on the same directory
	second := openEngine(t, sqliteConfig(dir))

	// Then: the collection is READY again and searchable
	assert.Equal(t, []CollectionInfo{{Name: testCollection, State: "READY", Chunks: 3}}, second.Collections())
	results, err := second.RetrieveWithWeights(ctx, testCollection, "호흡", 3, search.LexicalOnly())
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "A", results[0].ChunkID)
	assert.Equal(t, "breathing", results[0].Metadata[store.MetaTitle])
}

func TestEngine_SQLiteDirectoryIsLocked(t *testing.T) {
	// Given: an open sqlite engine
	dir := t.TempDir()
	openEngine(t, sqliteConfig(dir))

	// When: a second engine opens the same directory
	_, err := Open(context.Background(), sqliteConfig(dir), quietLogger())

	// Then: it is refused
	require.Error(t, err)
	assert.Equal(t, woerrors.ErrCodeStorageLocked, woerrors.GetCode(err))
}
