package collection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/woochi/internal/logging"
	"github.com/Aman-CERP/woochi/internal/store"
)

// vectorProvider returns a fixed vector per text, and a default for unknown
// texts. fail makes every EmbedBatch call return an error.
type vectorProvider struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dims    int

	fail       atomic.Bool
	batchCalls atomic.Int64
	// block, if set, is waited on by every EmbedBatch call.
	block chan struct{}
}

var errProviderDown = errors.New("provider down")

func newVectorProvider(dims int) *vectorProvider {
	return &vectorProvider{vectors: make(map[string][]float32), dims: dims}
}

func (p *vectorProvider) set(text string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vectors[text] = vec
}

func (p *vectorProvider) lookup(text string) []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.vectors[text]; ok {
		return v
	}
	v := make([]float32, p.dims)
	v[p.dims-1] = 1
	return v
}

func (p *vectorProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *vectorProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.batchCalls.Add(1)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.fail.Load() {
		return nil, errProviderDown
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.lookup(t)
	}
	return out, nil
}

func (p *vectorProvider) Dimensions() int   { return p.dims }
func (p *vectorProvider) ModelName() string { return "vector-test" }
func (p *vectorProvider) Close() error      { return nil }

// medProvider knows the three passages of the reference corpus.
func medProvider() *vectorProvider {
	p := newVectorProvider(3)
	p.set("A 복식호흡 기초", []float32{0.5, 0.5, 0})
	p.set("B 마음챙김 기초", []float32{0.9, 0.1, 0})
	p.set("C 걷기 명상", []float32{0, 1, 0})
	return p
}

func medChunks() []*store.Chunk {
	return []*store.Chunk{
		{ID: "A", Text: "A 복식호흡 기초", Metadata: map[string]string{store.MetaTitle: "breathing"}},
		{ID: "B", Text: "B 마음챙김 기초"},
		{ID: "C", Text: "C 걷기 명상"},
	}
}

func newTestRegistry(t *testing.T, p *vectorProvider, cat store.Catalog) *Registry {
	t.Helper()
	r, err := NewRegistry(Options{
		Provider:  p,
		Catalog:   cat,
		BatchSize: 2,
		Workers:   2,
		Vector:    store.DefaultVectorIndexConfig(),
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}
