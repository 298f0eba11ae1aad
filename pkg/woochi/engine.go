package woochi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/woochi/internal/collection"
	"github.com/Aman-CERP/woochi/internal/config"
	"github.com/Aman-CERP/woochi/internal/embed"
	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/search"
	"github.com/Aman-CERP/woochi/internal/store"
	"github.com/Aman-CERP/woochi/internal/telemetry"
)

// Re-exported core types.
type (
	Chunk             = store.Chunk
	Result            = search.Result
	Weights           = search.Weights
	ConsistencyReport = collection.ConsistencyReport
	IngestOption      = collection.IngestOption
	ProgressFunc      = collection.ProgressFunc
)

// WithProgress reports embedding progress during Ingest.
func WithProgress(fn ProgressFunc) IngestOption {
	return collection.WithProgress(fn)
}

// CollectionName builds the conventional "<domain>_<strategy>" name.
func CollectionName(domain, strategy string) string {
	return collection.Name(domain, strategy)
}

// closeTimeout bounds how long Close waits for in-flight ingests.
const closeTimeout = 10 * time.Second

// CollectionInfo summarizes one collection.
type CollectionInfo struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Chunks int    `json:"chunks"`
}

// Engine is an open retrieval engine.
type Engine struct {
	cfg          *config.Config
	provider     embed.Provider
	ownsProvider bool
	registry     *collection.Registry
	retriever    *search.Retriever
	metrics      *telemetry.Metrics
	stats        *telemetry.QueryStats
	logger       *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option configures Open.
type Option func(*options)

type options struct {
	provider   embed.Provider
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// WithProvider uses p instead of building one from configuration. The
// caller keeps ownership; Close does not close it.
func WithProvider(p embed.Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer registers the engine's metrics with reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// Open validates cfg, opens the durable catalog, restores the collections
// stored in it and returns a ready engine. A nil cfg uses the defaults with
// in-memory storage.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Engine, err error) {
	if cfg == nil {
		cfg = config.NewConfig()
		cfg.Storage.Backend = store.StorageBackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	e := &Engine{
		cfg:    cfg,
		logger: o.logger,
		stats:  telemetry.NewQueryStats(telemetry.QueryStatsConfig{}),
	}

	e.metrics, err = telemetry.NewMetrics(o.registerer)
	if err != nil {
		return nil, woerrors.InternalError("failed to register metrics", err)
	}

	if o.provider != nil {
		e.provider = o.provider
	} else {
		e.provider, err = embed.NewProvider(embeddingConfig(cfg, e.onCircuitChange))
		if err != nil {
			return nil, err
		}
		e.ownsProvider = true
	}
	defer func() {
		if err != nil && e.ownsProvider {
			_ = e.provider.Close()
		}
	}()

	catalog, err := openCatalog(cfg.Storage)
	if err != nil {
		return nil, err
	}

	e.registry, err = collection.NewRegistry(collection.Options{
		Provider:       e.provider,
		Catalog:        catalog,
		LexicalBackend: cfg.Lexical.Backend,
		BM25: store.BM25Config{
			K1:             cfg.Lexical.K1,
			B:              cfg.Lexical.B,
			StopWords:      cfg.Lexical.StopWords,
			MinTokenLength: cfg.Lexical.MinTokenLength,
		},
		Vector:    vectorConfig(cfg.Vector),
		BatchSize: cfg.Embeddings.BatchSize,
		Workers:   cfg.Embeddings.Workers,
		Metrics:   e.metrics,
		Logger:    e.logger,
	})
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = e.registry.Shutdown(context.Background())
		}
	}()

	restored, err := e.registry.Restore(ctx)
	if err != nil {
		return nil, err
	}

	e.retriever, err = search.NewRetriever(e.registry, e.provider, search.Config{
		DefaultK: cfg.Retrieval.DefaultK,
		Weights: search.Weights{
			Lexical: cfg.Retrieval.LexicalWeight,
			Vector:  cfg.Retrieval.VectorWeight,
		},
		OverfetchFactor: cfg.Retrieval.OverfetchFactor,
		EmbedTimeout:    cfg.Retrieval.EmbedTimeoutDuration(),
		AllowDegraded:   cfg.Retrieval.AllowDegraded,
	},
		search.WithMetrics(e.metrics),
		search.WithQueryStats(e.stats),
		search.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}

	e.logger.Info("engine_opened",
		slog.String("provider", e.provider.ModelName()),
		slog.String("storage", cfg.Storage.Backend),
		slog.Int("restored_collections", restored))
	return e, nil
}

func embeddingConfig(cfg *config.Config, onChange func(string, woerrors.State, woerrors.State)) embed.Config {
	ec := cfg.Embeddings
	// Validate has already accepted the provider name.
	provider, _ := embed.ParseProviderType(ec.Provider)
	return embed.Config{
		Provider:         provider,
		Model:            ec.Model,
		QueryModel:       ec.QueryModel,
		Host:             ec.Host,
		BaseURL:          ec.BaseURL,
		APIKey:           embed.APIKeyFromEnv(ec.APIKeyEnv),
		Dimensions:       ec.Dimensions,
		BatchSize:        ec.BatchSize,
		Timeout:          ec.TimeoutDuration(),
		MaxRetries:       ec.MaxRetries,
		InitialBackoff:   ec.InitialBackoffDuration(),
		CacheSize:        ec.CacheSize,
		RateLimit:        ec.RateLimit,
		CircuitThreshold: ec.CircuitThreshold,
		CircuitTimeout:   ec.CircuitTimeoutDuration(),
		OnCircuitChange:  onChange,
	}
}

func openCatalog(sc config.StorageConfig) (store.Catalog, error) {
	dir := ""
	if sc.Backend != store.StorageBackendMemory && sc.Backend != "" {
		dir = sc.DataDir()
	}
	cat, err := store.NewCatalog(sc.Backend, dir)
	if err != nil {
		if woerrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, woerrors.New(woerrors.ErrCodeStorageOpen,
			fmt.Sprintf("failed to open %s catalog", sc.Backend), err).
			WithDetail("path", dir)
	}
	return cat, nil
}

func (e *Engine) onCircuitChange(name string, from, to woerrors.State) {
	e.metrics.SetCircuitState(name, int(to))
	e.logger.Warn("circuit_state_changed",
		slog.String("breaker", name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}

// vectorConfig overlays the configured vector settings on the flat defaults.
func vectorConfig(vc config.VectorConfig) store.VectorIndexConfig {
	out := store.DefaultVectorIndexConfig()
	if vc.Backend != "" {
		out.Backend = vc.Backend
	}
	if vc.M > 0 {
		out.M = vc.M
	}
	if vc.EfSearch > 0 {
		out.EfSearch = vc.EfSearch
	}
	return out
}

// Ingest adds chunks to the named collection as one atomic batch, creating
// the collection if needed.
func (e *Engine) Ingest(ctx context.Context, collectionName string, chunks []*Chunk, opts ...IngestOption) error {
	c, err := e.registry.GetOrCreate(collectionName)
	if err != nil {
		return err
	}
	return c.Ingest(ctx, chunks, opts...)
}

// Retrieve returns the top-k passages for query with the configured weights.
// k <= 0 uses retrieval.default_k.
func (e *Engine) Retrieve(ctx context.Context, collectionName, query string, k int) ([]Result, error) {
	return e.retriever.Retrieve(ctx, collectionName, query, k)
}

// RetrieveWithWeights is Retrieve with per-query fusion weights.
func (e *Engine) RetrieveWithWeights(ctx context.Context, collectionName, query string, k int, w Weights) ([]Result, error) {
	return e.retriever.RetrieveWithWeights(ctx, collectionName, query, k, w)
}

// Drop removes a collection and its stored rows.
func (e *Engine) Drop(ctx context.Context, collectionName string) error {
	return e.registry.Drop(ctx, collectionName)
}

// Collections lists all collections, sorted by name.
func (e *Engine) Collections() []CollectionInfo {
	names := e.registry.Names()
	out := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		c, ok := e.registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, CollectionInfo{Name: name, State: c.State().String(), Chunks: c.Count()})
	}
	return out
}

// Check compares the id sets of a collection's stores and indexes.
func (e *Engine) Check(ctx context.Context, collectionName string) (*ConsistencyReport, error) {
	return e.registry.Check(ctx, collectionName)
}

// Metrics returns the engine's Prometheus collectors.
func (e *Engine) Metrics() *telemetry.Metrics { return e.metrics }

// QueryStats returns a snapshot of the query patterns seen so far.
func (e *Engine) QueryStats() *telemetry.QueryStatsSnapshot { return e.stats.Snapshot() }

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Close shuts down the registry and the catalog, then the provider if the
// engine built it. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		e.closeErr = e.registry.Shutdown(ctx)
		if e.ownsProvider {
			if err := e.provider.Close(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
		e.logger.Info("engine_closed")
	})
	return e.closeErr
}
