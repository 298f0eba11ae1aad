package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// OpenAI-compatible defaults. Upstage Solar serves passage and query
// embeddings from separate models on an OpenAI-compatible endpoint.
const (
	DefaultOpenAIModel = "text-embedding-3-small"

	UpstageBaseURL      = "https://api.upstage.ai/v1"
	UpstagePassageModel = "embedding-passage"
	UpstageQueryModel   = "embedding-query"
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	// BaseURL of the API (empty uses the OpenAI default).
	BaseURL string

	// Token is the API key. Local servers accept any value.
	Token string

	// Model embeds passages at ingest.
	Model string

	// QueryModel embeds queries. Empty uses Model.
	QueryModel string

	// Dimensions overrides detection from the first response.
	Dimensions int

	// BatchSize for EmbedDocuments requests.
	BatchSize int
}

// OpenAIProvider embeds text through an OpenAI-compatible embeddings API.
type OpenAIProvider struct {
	passages   embeddings.Embedder
	queries    embeddings.Embedder
	model      string
	queryModel string
	logger     *slog.Logger

	mu   sync.RWMutex
	dims int
}

var (
	_ Provider      = (*OpenAIProvider)(nil)
	_ QueryEmbedder = (*OpenAIProvider)(nil)
)

// NewOpenAIProvider creates the provider. No request is made until first use.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.QueryModel == "" {
		cfg.QueryModel = cfg.Model
	}
	if cfg.Token == "" {
		cfg.Token = "none"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	passages, err := newLangchainEmbedder(cfg, cfg.Model)
	if err != nil {
		return nil, err
	}
	queries := passages
	if cfg.QueryModel != cfg.Model {
		if queries, err = newLangchainEmbedder(cfg, cfg.QueryModel); err != nil {
			return nil, err
		}
	}

	return &OpenAIProvider{
		passages:   passages,
		queries:    queries,
		model:      cfg.Model,
		queryModel: cfg.QueryModel,
		dims:       cfg.Dimensions,
		logger:     slog.Default().With("component", "openai-provider"),
	}, nil
}

func newLangchainEmbedder(cfg OpenAIConfig, model string) (embeddings.Embedder, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.Token),
		openai.WithEmbeddingModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, woerrors.ConfigError("failed to create OpenAI client", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(cfg.BatchSize),
	)
	if err != nil {
		return nil, woerrors.ConfigError("failed to create embedder", err)
	}
	return embedder, nil
}

// Embed generates a passage embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch generates passage embeddings.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	p.logger.Debug("embedding passages", "count", len(texts), "model", p.model)

	out, err := p.passages.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, p.classify(ctx, "embed_documents", err)
	}
	if len(out) != len(texts) {
		return nil, woerrors.Provider("embed_documents",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out)))
	}
	if err := p.observeDimensions(len(out[0])); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a search query with the query model.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	p.logger.Debug("embedding query", "model", p.queryModel)

	vec, err := p.queries.EmbedQuery(ctx, query)
	if err != nil {
		return nil, p.classify(ctx, "embed_query", err)
	}
	if err := p.observeDimensions(len(vec)); err != nil {
		return nil, err
	}
	return vec, nil
}

func (p *OpenAIProvider) classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	p.logger.Warn("embedding request failed", "op", op, "err", err)
	return woerrors.Provider(op, err)
}

func (p *OpenAIProvider) observeDimensions(got int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dims == 0 {
		p.dims = got
		return nil
	}
	if p.dims != got {
		return woerrors.DimensionMismatch(p.dims, got)
	}
	return nil
}

// Dimensions returns the embedding dimension, or DefaultDimensions before
// the first response.
func (p *OpenAIProvider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.dims == 0 {
		return DefaultDimensions
	}
	return p.dims
}

// ModelName returns the passage model identifier.
func (p *OpenAIProvider) ModelName() string {
	return p.model
}

// Close is a no-op.
func (p *OpenAIProvider) Close() error {
	return nil
}
