package collection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/store"
)

func TestCollection_SnapshotBeforeIngestIsNotReady(t *testing.T) {
	// Given: a freshly created collection
	r := newTestRegistry(t, medProvider(), nil)
	c, err := r.GetOrCreate("med_recursive")
	require.NoError(t, err)

	// When: taking a snapshot
	_, err = c.Snapshot()

	// Then: the collection reports it is not ready
	require.Error(t, err)
	assert.True(t, errors.Is(err, woerrors.ErrCollectionNotReady))
	assert.Equal(t, StateEmpty, c.State())
}

func TestCollection_IngestBuildsReadySnapshot(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, medProvider(), nil)
	c, err := r.GetOrCreate("med_recursive")
	require.NoError(t, err)

	// When: ingesting three chunks
	require.NoError(t, c.Ingest(ctx, medChunks()))

	// Then: the collection is READY and every index holds the same ids
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 3, c.Count())

	snap, err := c.Snapshot()
	require.NoError(t, err)
	defer snap.Release()

	assert.Equal(t, []string{"A", "B", "C"}, snap.Chunks.IDs())
	assert.Equal(t, []string{"A", "B", "C"}, snap.Lexical.IDs())
	assert.Equal(t, []string{"A", "B", "C"}, snap.Vector.IDs())
	assert.Equal(t, 3, snap.Vector.Dimensions())

	got, err := snap.Chunks.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "med_recursive", got.Collection)
	assert.Equal(t, "breathing", got.Metadata[store.MetaTitle])
}

func TestCollection_IngestDoesNotAliasCallerChunks(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, medProvider(), nil)
	c, _ := r.GetOrCreate("med_recursive")

	chunks := medChunks()
	require.NoError(t, c.Ingest(ctx, chunks))

	// When: the caller mutates its input after ingest
	chunks[0].Metadata[store.MetaTitle] = "changed"

	// Then: the stored chunk is unaffected
	snap, err := c.Snapshot()
	require.NoError(t, err)
	defer snap.Release()
	got, err := snap.Chunks.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "breathing", got.Metadata[store.MetaTitle])
}

func TestCollection_IncrementalIngestRebuildsFullCorpus(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, medProvider(), nil)
	c, _ := r.GetOrCreate("med_recursive")

	chunks := medChunks()
	require.NoError(t, c.Ingest(ctx, chunks[:2]))
	require.NoError(t, c.Ingest(ctx, chunks[2:]))

	snap, err := c.Snapshot()
	require.NoError(t, err)
	defer snap.Release()

	assert.Equal(t, 3, snap.Count())
	assert.Equal(t, []string{"A", "B", "C"}, snap.Lexical.IDs())
	assert.Equal(t, []string{"A", "B", "C"}, snap.Vector.IDs())
}

func TestCollection_EmptyBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("empty collection becomes ready", func(t *testing.T) {
		r := newTestRegistry(t, medProvider(), nil)
		c, _ := r.GetOrCreate("empty")

		require.NoError(t, c.Ingest(ctx, nil))

		assert.Equal(t, StateReady, c.State())
		snap, err := c.Snapshot()
		require.NoError(t, err)
		defer snap.Release()
		assert.Equal(t, 0, snap.Count())
	})

	t.Run("ready collection is unchanged", func(t *testing.T) {
		p := medProvider()
		r := newTestRegistry(t, p, nil)
		c, _ := r.GetOrCreate("med_recursive")
		require.NoError(t, c.Ingest(ctx, medChunks()))

		before, err := c.Snapshot()
		require.NoError(t, err)
		defer before.Release()
		calls := p.batchCalls.Load()

		require.NoError(t, c.Ingest(ctx, []*store.Chunk{}))

		after, err := c.Snapshot()
		require.NoError(t, err)
		defer after.Release()
		assert.Same(t, before, after)
		assert.Equal(t, calls, p.batchCalls.Load())
	})
}

func TestCollection_DuplicateIDs(t *testing.T) {
	ctx := context.Background()

	t.Run("within batch", func(t *testing.T) {
		p := medProvider()
		r := newTestRegistry(t, p, nil)
		c, _ := r.GetOrCreate("med_recursive")

		err := c.Ingest(ctx, []*store.Chunk{
			{ID: "A", Text: "first"},
			{ID: "A", Text: "second"},
		})

		require.Error(t, err)
		assert.True(t, errors.Is(err, woerrors.ErrDuplicateID))
		assert.Equal(t, StateEmpty, c.State())
		assert.Zero(t, p.batchCalls.Load(), "no embedding work for a rejected batch")
	})

	t.Run("against existing chunks", func(t *testing.T) {
		r := newTestRegistry(t, medProvider(), nil)
		c, _ := r.GetOrCreate("med_recursive")
		require.NoError(t, c.Ingest(ctx, medChunks()))

		err := c.Ingest(ctx, []*store.Chunk{
			{ID: "D", Text: "새 문서"},
			{ID: "B", Text: "다시"},
		})

		require.Error(t, err)
		assert.Equal(t, woerrors.ErrCodeDuplicateID, woerrors.GetCode(err))
		assert.Equal(t, StateReady, c.State())
		assert.Equal(t, 3, c.Count())
	})
}

func TestCollection_InvalidChunks(t *testing.T) {
	tests := []struct {
		name  string
		chunk *store.Chunk
	}{
		{"nil chunk", nil},
		{"empty id", &store.Chunk{Text: "text"}},
		{"empty text", &store.Chunk{ID: "X", Text: ""}},
		{"whitespace text", &store.Chunk{ID: "X", Text: " \n\t"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRegistry(t, medProvider(), nil)
			c, _ := r.GetOrCreate("med_recursive")

			err := c.Ingest(context.Background(), []*store.Chunk{tc.chunk})

			require.Error(t, err)
			assert.Equal(t, woerrors.ErrCodeIngest, woerrors.GetCode(err))
			assert.Equal(t, StateEmpty, c.State())
		})
	}
}

func TestCollection_ProviderFailureIsAtomic(t *testing.T) {
	ctx := context.Background()

	t.Run("empty stays empty", func(t *testing.T) {
		p := medProvider()
		p.fail.Store(true)
		r := newTestRegistry(t, p, nil)
		c, _ := r.GetOrCreate("med_recursive")

		err := c.Ingest(ctx, medChunks())

		require.Error(t, err)
		assert.Equal(t, woerrors.ErrCodeIngest, woerrors.GetCode(err))
		assert.ErrorIs(t, err, errProviderDown)
		assert.Equal(t, StateEmpty, c.State())
		assert.Equal(t, 0, c.Count())
	})

	t.Run("ready keeps previous snapshot", func(t *testing.T) {
		p := medProvider()
		r := newTestRegistry(t, p, nil)
		c, _ := r.GetOrCreate("med_recursive")
		require.NoError(t, c.Ingest(ctx, medChunks()))

		p.fail.Store(true)
		err := c.Ingest(ctx, []*store.Chunk{{ID: "D", Text: "새 문서"}})

		require.Error(t, err)
		assert.Equal(t, StateReady, c.State())
		snap, err := c.Snapshot()
		require.NoError(t, err)
		defer snap.Release()
		assert.Equal(t, []string{"A", "B", "C"}, snap.Chunks.IDs())
		assert.Equal(t, []string{"A", "B", "C"}, snap.Lexical.IDs())
		assert.Equal(t, []string{"A", "B", "C"}, snap.Vector.IDs())
	})
}

func TestCollection_IngestReportsProgress(t *testing.T) {
	r := newTestRegistry(t, medProvider(), nil)
	c, err := r.GetOrCreate("med_recursive")
	require.NoError(t, err)

	// Given: batches of two, so three chunks embed in two calls
	var calls [][2]int
	progress := WithProgress(func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})

	// When
	require.NoError(t, c.Ingest(context.Background(), medChunks(), progress))

	// Then: one report per batch, ending at the full count
	require.Len(t, calls, 2)
	assert.Less(t, calls[0][0], calls[1][0])
	assert.Equal(t, [2]int{3, 3}, calls[1])
}

func TestCollection_IngestFailureIsLogged(t *testing.T) {
	// Given: a registry logging JSON to a buffer and a failing provider
	var buf bytes.Buffer
	p := medProvider()
	p.fail.Store(true)
	r, err := NewRegistry(Options{
		Provider: p,
		Vector:   store.DefaultVectorIndexConfig(),
		Logger:   slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	c, err := r.GetOrCreate("med_recursive")
	require.NoError(t, err)

	// When
	require.Error(t, c.Ingest(context.Background(), medChunks()))

	// Then: the failure is logged with its structured code
	assert.Contains(t, buf.String(), `"msg":"ingest_failed"`)
	assert.Contains(t, buf.String(), `"error_code":"`+woerrors.ErrCodeIngest+`"`)
	assert.Contains(t, buf.String(), `"collection":"med_recursive"`)
}

func TestCollection_DimensionMismatchRejectsBatch(t *testing.T) {
	ctx := context.Background()
	p := medProvider()
	p.set("short", []float32{1, 0})
	r := newTestRegistry(t, p, nil)
	c, _ := r.GetOrCreate("med_recursive")
	require.NoError(t, c.Ingest(ctx, medChunks()))

	err := c.Ingest(ctx, []*store.Chunk{{ID: "D", Text: "short"}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, woerrors.ErrDimensionMismatch))
	assert.Equal(t, 3, c.Count())
}

func TestCollection_CancelledIngest(t *testing.T) {
	p := medProvider()
	p.block = make(chan struct{})
	r := newTestRegistry(t, p, nil)
	c, _ := r.GetOrCreate("med_recursive")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Ingest(ctx, medChunks()) }()

	// Ingest is blocked inside the provider
	require.Eventually(t, func() bool { return c.State() == StateBuilding }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("ingest did not return after cancellation")
	}
	assert.Equal(t, StateEmpty, c.State())
}

func TestCollection_ConcurrentIngestAndSnapshots(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, medProvider(), nil)
	c, _ := r.GetOrCreate("med_recursive")
	require.NoError(t, c.Ingest(ctx, medChunks()))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers: every snapshot they see must be internally consistent
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, err := c.Snapshot()
				if err != nil {
					// BUILDING is a legal observation during ingest
					assert.True(t, errors.Is(err, woerrors.ErrCollectionNotReady))
					continue
				}
				assert.Equal(t, snap.Chunks.Count(), snap.Lexical.Count())
				assert.Equal(t, snap.Chunks.Count(), snap.Vector.Count())
				hits, err := snap.Lexical.Search(ctx, []string{"기초"}, 10)
				assert.NoError(t, err)
				assert.NotEmpty(t, hits)
				snap.Release()
			}
		}()
	}

	// Writers: concurrent ingests are serialized
	var writers sync.WaitGroup
	for i := 0; i < 4; i++ {
		writers.Add(1)
		go func(n int) {
			defer writers.Done()
			batch := []*store.Chunk{{ID: fmt.Sprintf("D%d", n), Text: fmt.Sprintf("문서 %d 기초", n)}}
			assert.NoError(t, c.Ingest(ctx, batch))
		}(i)
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	assert.Equal(t, 7, c.Count())
	assert.Equal(t, StateReady, c.State())
}

func TestSnapshot_ReleaseAfterSwapKeepsReaderUsable(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, medProvider(), nil)
	c, _ := r.GetOrCreate("med_recursive")
	require.NoError(t, c.Ingest(ctx, medChunks()[:2]))

	// Given: a reader holding the first snapshot
	old, err := c.Snapshot()
	require.NoError(t, err)

	// When: a new batch swaps in a newer snapshot
	require.NoError(t, c.Ingest(ctx, medChunks()[2:]))

	// Then: the old snapshot still answers queries until released
	hits, err := old.Lexical.Search(ctx, []string{"기초"}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	old.Release()

	assert.False(t, old.acquire(), "released snapshot cannot be reacquired")
}
