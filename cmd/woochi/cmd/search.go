package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/output"
	"github.com/Aman-CERP/woochi/internal/search"
	"github.com/Aman-CERP/woochi/internal/store"
	"github.com/Aman-CERP/woochi/internal/telemetry"
	"github.com/Aman-CERP/woochi/pkg/woochi"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	k             int
	mode          string
	lexicalWeight float64
	jsonOutput    bool
	stats         bool
}

// searchResponse is the JSON document printed by search.
type searchResponse struct {
	Collection string                        `json:"collection"`
	Query      string                        `json:"query"`
	Results    []woochi.Result               `json:"results"`
	Stats      *telemetry.QueryStatsSnapshot `json:"stats,omitempty"`
}

func newSearchCmd() *cobra.Command {
	var (
		opts  searchOptions
		names collectionFlags
	)

	cmd := &cobra.Command{
		Use:   "search [collection] <query>",
		Short: "Search a collection",
		Long: `Search a collection with hybrid retrieval.

Runs BM25 and vector search in parallel, min-max normalizes each score list
and combines them by weighted sum. When the embedding provider is down the
results fall back to BM25 only (unless retrieval.allow_degraded is false).`,
		Example: `  woochi search meditation_recursive "호흡"
  woochi search meditation_recursive "breathing basics" -k 3 --lexical-weight 0.3
  woochi search meditation_recursive "호흡" --json --stats
  woochi search meditation_recursive "호흡" --mode lexical
  woochi search --domain meditation --strategy recursive "호흡"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rest, err := names.resolve(args, 1)
			if err != nil {
				return err
			}
			return runSearch(cmd, name, strings.Join(rest, " "), opts)
		},
	}
	names.register(cmd)

	cmd.Flags().IntVarP(&opts.k, "k", "k", 0, "Number of results (0 uses retrieval.default_k)")
	cmd.Flags().StringVar(&opts.mode, "mode", "hybrid", "Signals to use: hybrid, lexical or vector")
	cmd.Flags().Float64Var(&opts.lexicalWeight, "lexical-weight", 0.5, "BM25 weight in [0,1]; the vector weight is 1 minus this")
	cmd.MarkFlagsMutuallyExclusive("mode", "lexical-weight")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "Print retrieval metrics after the results")

	return cmd
}

func runSearch(cmd *cobra.Command, collectionName, query string, opts searchOptions) error {
	ctx := cmd.Context()
	engine, cleanup, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	weights, override, err := searchWeights(cmd, opts)
	if err != nil {
		return err
	}

	var results []woochi.Result
	if override {
		results, err = engine.RetrieveWithWeights(ctx, collectionName, query, opts.k, weights)
	} else {
		results, err = engine.Retrieve(ctx, collectionName, query, opts.k)
	}
	if err != nil {
		return err
	}
	slog.Debug("search_complete", slog.String("collection", collectionName), slog.Int("results", len(results)))

	out := output.New(cmd.OutOrStdout())
	if output.WantJSON(cmd.OutOrStdout(), opts.jsonOutput) {
		resp := searchResponse{Collection: collectionName, Query: query, Results: results}
		if opts.stats {
			resp.Stats = engine.QueryStats()
		}
		return out.JSON(resp)
	}

	formatResults(out, query, results)
	if opts.stats {
		out.Newline()
		out.Header("Metrics")
		families, err := engine.Metrics().Gather()
		if err != nil {
			return err
		}
		if err := telemetry.WriteSummary(cmd.OutOrStdout(), families); err != nil {
			return err
		}
		snap := engine.QueryStats()
		if snap.DegradedQueries > 0 {
			out.Warningf("%d of %d queries answered lexical-only", snap.DegradedQueries, snap.TotalQueries)
		}
		out.Statusf("", "zero-result queries: %.1f%%", snap.ZeroResultPercentage())
	}
	return nil
}

// searchWeights returns the per-query weights requested by --mode or
// --lexical-weight. override is false when the configured weights apply.
func searchWeights(cmd *cobra.Command, opts searchOptions) (w woochi.Weights, override bool, err error) {
	if cmd.Flags().Changed("lexical-weight") {
		return woochi.Weights{Lexical: opts.lexicalWeight, Vector: 1 - opts.lexicalWeight}, true, nil
	}
	switch opts.mode {
	case "hybrid", "":
		return woochi.Weights{}, false, nil
	case "lexical":
		return search.LexicalOnly(), true, nil
	case "vector":
		return search.VectorOnly(), true, nil
	default:
		return woochi.Weights{}, false, woerrors.ValidationError(
			fmt.Sprintf("unknown search mode %q (valid: hybrid, lexical, vector)", opts.mode), nil)
	}
}

func formatResults(out *output.Writer, query string, results []woochi.Result) {
	if len(results) == 0 {
		out.Statusf("🔍", "No results for %q", query)
		return
	}
	out.Statusf("🔍", "%d results for %q", len(results), query)
	out.Newline()
	for i, r := range results {
		title := r.ChunkID
		if t := r.Metadata[store.MetaTitle]; t != "" {
			title = fmt.Sprintf("%s (%s)", r.ChunkID, t)
		}
		out.Statusf(fmt.Sprintf("%2d.", i+1), "%s  score %.4f  lexical %.4f  vector %.4f",
			title, r.Score, r.LexicalScore, r.VectorScore)
		out.Status("", truncate(r.Text, 200))
	}
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
