package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/woochi/internal/collection"
	"github.com/Aman-CERP/woochi/internal/embed"
	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/store"
	"github.com/Aman-CERP/woochi/internal/telemetry"
)

// Retrieval defaults.
const (
	DefaultK               = 5
	DefaultOverfetchFactor = 2
	DefaultEmbedTimeout    = 10 * time.Second
)

// Config configures a Retriever.
type Config struct {
	// DefaultK is used when Retrieve is called with k <= 0.
	DefaultK int

	// Weights are the fusion weights used by Retrieve.
	Weights Weights

	// OverfetchFactor multiplies k for each per-signal search before fusion.
	// 1 fetches exactly k from each index.
	OverfetchFactor int

	// EmbedTimeout bounds the query embedding call.
	EmbedTimeout time.Duration

	// AllowDegraded returns lexical-only results when the vector path fails.
	// When false, a vector failure is a RetrievalDegraded error.
	AllowDegraded bool
}

// DefaultConfig returns the default retrieval configuration.
func DefaultConfig() Config {
	return Config{
		DefaultK:        DefaultK,
		Weights:         DefaultWeights(),
		OverfetchFactor: DefaultOverfetchFactor,
		EmbedTimeout:    DefaultEmbedTimeout,
		AllowDegraded:   true,
	}
}

// Result is one retrieved passage.
type Result struct {
	ChunkID  string            `json:"chunk_id"`
	Score    float64           `json:"score"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Normalized per-signal scores, before weighting.
	LexicalScore float64 `json:"lexical_score"`
	VectorScore  float64 `json:"vector_score"`
	InLexical    bool    `json:"in_lexical"`
	InVector     bool    `json:"in_vector"`
}

// Retriever runs hybrid queries against the collections of a registry.
// It holds no mutable state and is safe for concurrent use.
type Retriever struct {
	registry *collection.Registry
	provider embed.Provider
	config   Config
	metrics  *telemetry.Metrics
	stats    *telemetry.QueryStats
	logger   *slog.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithMetrics records retrieval counters and latency.
func WithMetrics(m *telemetry.Metrics) RetrieverOption {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// WithQueryStats records per-query patterns for the stats summary.
func WithQueryStats(s *telemetry.QueryStats) RetrieverOption {
	return func(r *Retriever) {
		r.stats = s
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetriever creates a retriever. Zero config fields take their defaults.
func NewRetriever(registry *collection.Registry, provider embed.Provider, cfg Config, opts ...RetrieverOption) (*Retriever, error) {
	if registry == nil || provider == nil {
		return nil, woerrors.ValidationError("retriever requires a registry and an embedding provider", nil)
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = DefaultOverfetchFactor
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}

	r := &Retriever{
		registry: registry,
		provider: provider,
		config:   cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve returns the top-k passages of a collection for query using the
// configured weights.
func (r *Retriever) Retrieve(ctx context.Context, collectionName, query string, k int) ([]Result, error) {
	return r.RetrieveWithWeights(ctx, collectionName, query, k, r.config.Weights)
}

// RetrieveWithWeights is Retrieve with per-query fusion weights. A signal
// with zero weight is not searched, so its candidates never enter the
// ranking: {1, 0} is lexical-only and never embeds the query, {0, 1} is
// vector-only and fails with RetrievalDegradedError when the vector path
// does, since there is no lexical list to fall back to.
func (r *Retriever) RetrieveWithWeights(ctx context.Context, collectionName, query string, k int, w Weights) (results []Result, err error) {
	start := time.Now()
	queryID := uuid.NewString()
	degraded := false

	defer func() {
		outcome := telemetry.OutcomeOK
		switch {
		case err != nil:
			outcome = telemetry.OutcomeError
		case degraded:
			outcome = telemetry.OutcomeDegraded
		}
		r.metrics.ObserveRetrieval(collectionName, outcome, time.Since(start))
		if err == nil {
			r.stats.Record(telemetry.QueryEvent{
				Collection:  collectionName,
				Query:       query,
				ResultCount: len(results),
				Degraded:    degraded,
				Latency:     time.Since(start),
			})
		}
	}()

	if err := w.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = r.config.DefaultK
	}

	c, ok := r.registry.Get(collectionName)
	if !ok {
		return nil, woerrors.CollectionNotReady(collectionName, collection.StateEmpty.String())
	}
	snap, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	if strings.TrimSpace(query) == "" {
		return nil, woerrors.ValidationError("query must not be empty", nil)
	}
	if snap.Count() == 0 {
		return []Result{}, nil
	}

	n := snap.Count()
	k = min(k, n)
	fetch := n
	if k <= n/r.config.OverfetchFactor {
		fetch = k * r.config.OverfetchFactor
	}

	lexical, vector, vecErr, err := r.parallelSearch(ctx, snap, query, fetch, w.Lexical > 0, w.Vector > 0)
	if err != nil {
		return nil, err
	}
	if vecErr != nil {
		// A vector-only query has nothing to fall back to.
		if !r.config.AllowDegraded || w.Lexical == 0 {
			return nil, woerrors.RetrievalDegraded(collectionName, vecErr)
		}
		degraded = true
		attrs := append([]any{slog.String("query_id", queryID), slog.String("collection", collectionName)},
			woerrors.FormatForLog(vecErr)...)
		r.logger.Warn("retrieval_degraded", attrs...)
	}

	fused := Fuse(lexical, vector, w, k)
	results, err = resolve(ctx, snap, collectionName, fused)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("retrieval_completed",
		slog.String("query_id", queryID),
		slog.String("collection", collectionName),
		slog.Int("k", k),
		slog.Int("lexical_hits", len(lexical)),
		slog.Int("vector_hits", len(vector)),
		slog.Int("results", len(results)),
		slog.Bool("degraded", degraded),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

// parallelSearch runs the requested lexical and vector lookups concurrently.
// A vector path failure is returned as vecErr with nil vector hits so the
// caller can degrade; err is set only for caller cancellation or a lexical
// failure.
func (r *Retriever) parallelSearch(ctx context.Context, snap *collection.Snapshot, query string, limit int, withLexical, withVector bool) (
	lexical, vector []store.Hit,
	vecErr, err error,
) {
	g, gctx := errgroup.WithContext(ctx)

	if withLexical {
		g.Go(func() error {
			hits, searchErr := snap.Lexical.Search(gctx, snap.Tokenizer.Tokenize(query), limit)
			if searchErr != nil {
				return fmt.Errorf("lexical search: %w", searchErr)
			}
			lexical = hits
			return nil
		})
	}

	if withVector {
		g.Go(func() error {
			vector, vecErr = r.vectorSearch(gctx, snap, query, limit)
			if vecErr != nil {
				vector = nil
			}
			// Never fail the group; lexical results survive a vector failure.
			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, nil, ctxErr
		}
		return nil, nil, nil, waitErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, nil, ctxErr
	}
	return lexical, vector, vecErr, nil
}

func (r *Retriever) vectorSearch(ctx context.Context, snap *collection.Snapshot, query string, limit int) ([]store.Hit, error) {
	embedCtx, cancel := context.WithTimeout(ctx, r.config.EmbedTimeout)
	defer cancel()

	qvec, err := embed.EmbedQuery(embedCtx, r.provider, query)
	if err != nil {
		if ctx.Err() == nil && errors.Is(embedCtx.Err(), context.DeadlineExceeded) {
			err = woerrors.New(woerrors.ErrCodeProviderTimeout,
				fmt.Sprintf("query embedding exceeded %s", r.config.EmbedTimeout), err)
		}
		code := woerrors.GetCode(err)
		if code == "" {
			code = woerrors.ErrCodeProvider
		}
		r.metrics.ProviderError("embed_query", code)
		return nil, err
	}

	hits, err := snap.Vector.Search(ctx, qvec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

// resolve attaches text and metadata from the snapshot's chunk store. A
// fused id missing from the store means the indexes diverged from it.
func resolve(ctx context.Context, snap *collection.Snapshot, collectionName string, fused []Fused) ([]Result, error) {
	out := make([]Result, 0, len(fused))
	for _, f := range fused {
		ch, err := snap.Chunks.Get(ctx, f.ChunkID)
		if err != nil {
			if errors.Is(err, woerrors.ErrNotFound) {
				return nil, woerrors.IndexDiverged(collectionName,
					fmt.Sprintf("fused chunk %q is not in the chunk store", f.ChunkID))
			}
			return nil, err
		}
		out = append(out, Result{
			ChunkID:      f.ChunkID,
			Score:        f.Score,
			Text:         ch.Text,
			Metadata:     ch.Metadata,
			LexicalScore: f.LexicalScore,
			VectorScore:  f.VectorScore,
			InLexical:    f.InLexical,
			InVector:     f.InVector,
		})
	}
	return out, nil
}
