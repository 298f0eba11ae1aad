package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// OllamaProvider generates embeddings using Ollama's HTTP API.
type OllamaProvider struct {
	client    *http.Client
	transport *http.Transport // Store for connection cleanup
	config    OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama provider. No request is made until the
// first Embed call; dimensions are detected from the first response unless
// configured.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No http.Client.Timeout: it would override the per-request context
	// deadline set in doEmbed.
	return &OllamaProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}
}

// Embed generates the embedding for a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, woerrors.Provider("embed", fmt.Errorf("no embedding returned"))
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings using Ollama's batch API. Empty texts get
// zero vectors without a request.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += p.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+p.config.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := p.doEmbed(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	dims := p.Dimensions()
	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}
	return results, nil
}

// doEmbed performs one /api/embed request and classifies failures.
func (p *OllamaProvider) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	body, err := json.Marshal(OllamaEmbedRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		// The caller's own cancellation is not a provider failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, woerrors.New(woerrors.ErrCodeProviderTimeout,
				fmt.Sprintf("ollama request timed out after %s", p.config.Timeout), err)
		}
		return nil, woerrors.Provider("embed", fmt.Errorf("failed to connect to Ollama at %s: %w", p.config.Host, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("ollama", resp)
	}

	var result OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, woerrors.Provider("embed", fmt.Errorf("failed to decode response: %w", err))
	}
	if len(result.Embeddings) != len(texts) {
		return nil, woerrors.Provider("embed",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	if err := p.observeDimensions(len(out[0])); err != nil {
		return nil, err
	}

	slog.Debug("ollama_embed",
		"model", p.config.Model,
		"texts", len(texts),
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// observeDimensions records the detected dimension, or reports a mismatch
// with a configured or previously seen one.
func (p *OllamaProvider) observeDimensions(got int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dims == 0 {
		p.dims = got
		return nil
	}
	if p.dims != got {
		return woerrors.DimensionMismatch(p.dims, got).WithDetail("model", p.config.Model)
	}
	return nil
}

// classifyStatus maps a non-200 HTTP response to a provider error code.
// 429 and 5xx are retryable; other 4xx are not.
func classifyStatus(provider string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var parsed ollamaErrorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	cause := fmt.Errorf("%s returned status %d: %s", provider, resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return woerrors.New(woerrors.ErrCodeProviderRateLimit, "embedding provider rate limited", cause)
	case resp.StatusCode >= 500:
		return woerrors.Provider("embed", cause)
	default:
		return woerrors.New(woerrors.ErrCodeProviderBadRequest, "embedding provider rejected the request", cause).
			WithSuggestion("check embeddings.model and embeddings.host")
	}
}

// Dimensions returns the embedding dimension. Before the first response it
// returns the configured value or DefaultDimensions.
func (p *OllamaProvider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.dims == 0 {
		return DefaultDimensions
	}
	return p.dims
}

// ModelName returns the model identifier.
func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

// Close releases idle connections.
func (p *OllamaProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.transport.CloseIdleConnections()
	return nil
}

func (p *OllamaProvider) checkOpen() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("provider is closed")
	}
	return nil
}
