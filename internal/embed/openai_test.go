package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// fakeOpenAI serves /embeddings and records the model of each request.
type fakeOpenAI struct {
	mu     sync.Mutex
	models []string
	status int
}

func (f *fakeOpenAI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.models = append(f.models, req.Model)
		f.mu.Unlock()

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Object string `json:"object"`
			Data   []item `json:"data"`
			Model  string `json:"model"`
		}{Object: "list", Model: req.Model}
		for i := range req.Input {
			resp.Data = append(resp.Data, item{Object: "embedding", Embedding: []float32{float32(i + 1), 0, 1}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (f *fakeOpenAI) seenModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

func TestOpenAIProvider_PassageAndQueryModels(t *testing.T) {
	// Given: an Upstage-style setup with separate passage and query models
	fake := &fakeOpenAI{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL:    srv.URL,
		Token:      "test",
		Model:      UpstagePassageModel,
		QueryModel: UpstageQueryModel,
	})
	require.NoError(t, err)
	ctx := context.Background()

	// When: passages and a query are embedded
	passages, err := p.EmbedBatch(ctx, []string{"복식호흡", "ujjayi breath"})
	require.NoError(t, err)
	query, err := p.EmbedQuery(ctx, "호흡")
	require.NoError(t, err)

	// Then: each call used its own model and dimensions were detected
	assert.Len(t, passages, 2)
	assert.Len(t, query, 3)
	assert.Equal(t, []string{UpstagePassageModel, UpstageQueryModel}, fake.seenModels())
	assert.Equal(t, 3, p.Dimensions())
	assert.Equal(t, UpstagePassageModel, p.ModelName())
}

func TestOpenAIProvider_FailureIsProviderError(t *testing.T) {
	fake := &fakeOpenAI{status: http.StatusInternalServerError}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "호흡")

	require.Error(t, err)
	assert.ErrorIs(t, err, woerrors.ErrProvider)
	assert.True(t, woerrors.IsRetryable(err))
}

func TestOpenAIProvider_EmptyBatch(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	out, err := p.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, DefaultDimensions, p.Dimensions())
}
