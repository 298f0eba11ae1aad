package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/store"
)

// --- Test Helpers ---

func lexHits(ids []string, scores []float64) []store.Hit {
	hits := make([]store.Hit, len(ids))
	for i, id := range ids {
		hits[i] = store.Hit{ChunkID: id, Score: scores[i], Source: store.SourceLexical}
	}
	return hits
}

func vecHits(ids []string, scores []float64) []store.Hit {
	hits := make([]store.Hit, len(ids))
	for i, id := range ids {
		hits[i] = store.Hit{ChunkID: id, Score: scores[i], Source: store.SourceVector}
	}
	return hits
}

func fusedIDs(fused []Fused) []string {
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	return ids
}

// --- Normalize ---

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   []float64
	}{
		{"min-max", []float64{4, 3, 2}, []float64{1, 0.5, 0}},
		{"all equal", []float64{0.7, 0.7}, []float64{1, 1}},
		{"single", []float64{12.5}, []float64{1}},
		{"negative scores", []float64{0.5, -0.5}, []float64{1, 0}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ids := []string{"A", "B", "C", "D"}[:len(tc.scores)]
			in := lexHits(ids, tc.scores)

			out := Normalize(in)

			require.Len(t, out, len(tc.want))
			for i, want := range tc.want {
				assert.InDelta(t, want, out[i].Score, 1e-12)
				assert.Equal(t, ids[i], out[i].ChunkID)
			}
			// Input untouched
			assert.Equal(t, tc.scores[0], in[0].Score)
		})
	}
}

func TestNormalize_Empty(t *testing.T) {
	out := Normalize(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestNormalize_RepeatedIDKeepsBest(t *testing.T) {
	out := Normalize(lexHits([]string{"A", "B", "A"}, []float64{1, 3, 5}))

	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].ChunkID)
	assert.InDelta(t, 1.0, out[0].Score, 1e-12)
	assert.InDelta(t, 0.0, out[1].Score, 1e-12)
}

// --- Weights ---

func TestWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"default", DefaultWeights(), false},
		{"lexical only", LexicalOnly(), false},
		{"vector only", VectorOnly(), false},
		{"float rounding", Weights{Lexical: 0.7, Vector: 0.3}, false},
		{"sum below one", Weights{Lexical: 0.3, Vector: 0.3}, true},
		{"negative", Weights{Lexical: -0.5, Vector: 1.5}, true},
		{"above one", Weights{Lexical: 1.5, Vector: -0.5}, true},
		{"nan", Weights{Lexical: math.NaN(), Vector: 1}, true},
		{"zero", Weights{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.weights.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, woerrors.ErrCodeInvalidInput, woerrors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// --- Fuse ---

func TestFuse_WeightedSumOfNormalizedScores(t *testing.T) {
	// Given: lexical [A 3, B 2, C 1] and vector [C 0.9, A 0.5]
	lex := lexHits([]string{"A", "B", "C"}, []float64{3, 2, 1})
	vec := vecHits([]string{"C", "A"}, []float64{0.9, 0.5})

	// When: fusing with equal weights
	fused := Fuse(lex, vec, DefaultWeights(), 10)

	// Then: A = .5*1 + .5*0, C = .5*0 + .5*1, B = .5*.5; A and C tie, id breaks it
	require.Len(t, fused, 3)
	assert.Equal(t, []string{"A", "C", "B"}, fusedIDs(fused))
	assert.InDelta(t, 0.5, fused[0].Score, 1e-12)
	assert.InDelta(t, 0.5, fused[1].Score, 1e-12)
	assert.InDelta(t, 0.25, fused[2].Score, 1e-12)

	assert.True(t, fused[0].InLexical)
	assert.True(t, fused[0].InVector)
	assert.True(t, fused[2].InLexical)
	assert.False(t, fused[2].InVector)
	assert.Zero(t, fused[2].VectorScore)
}

func TestFuse_RawScaleDoesNotDominate(t *testing.T) {
	// Lexical scores are two orders of magnitude larger than cosine scores
	lex := lexHits([]string{"A", "B"}, []float64{120, 100})
	vec := vecHits([]string{"B", "A"}, []float64{0.9, 0.1})

	fused := Fuse(lex, vec, Weights{Lexical: 0.4, Vector: 0.6}, 2)

	// B = .4*0 + .6*1 beats A = .4*1 + .6*0
	assert.Equal(t, []string{"B", "A"}, fusedIDs(fused))
	assert.InDelta(t, 0.6, fused[0].Score, 1e-12)
	assert.InDelta(t, 0.4, fused[1].Score, 1e-12)
}

func TestFuse_OneListEmpty(t *testing.T) {
	lex := lexHits([]string{"A", "B", "C"}, []float64{4, 2, 0.5})

	// Given: no vector hits
	fused := Fuse(lex, nil, Weights{Lexical: 0.8, Vector: 0.2}, 10)

	// Then: lexical order, scaled by the lexical weight
	require.Len(t, fused, 3)
	assert.Equal(t, []string{"A", "B", "C"}, fusedIDs(fused))
	assert.InDelta(t, 0.8, fused[0].Score, 1e-12)
	assert.InDelta(t, 0.8*(1.5/3.5), fused[1].Score, 1e-12)
	assert.InDelta(t, 0.0, fused[2].Score, 1e-12)

	vecOnly := Fuse(nil, vecHits([]string{"X"}, []float64{0.3}), DefaultWeights(), 10)
	require.Len(t, vecOnly, 1)
	assert.InDelta(t, 0.5, vecOnly[0].Score, 1e-12)
}

func TestFuse_BothEmpty(t *testing.T) {
	fused := Fuse(nil, []store.Hit{}, DefaultWeights(), 5)
	assert.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestFuse_TruncatesToK(t *testing.T) {
	lex := lexHits([]string{"A", "B", "C", "D"}, []float64{4, 3, 2, 1})

	assert.Len(t, Fuse(lex, nil, LexicalOnly(), 2), 2)
	assert.Len(t, Fuse(lex, nil, LexicalOnly(), 0), 4, "k <= 0 keeps everything")
}

func TestFuse_NoDuplicatesAndDeterministic(t *testing.T) {
	lex := lexHits([]string{"A", "B", "C", "D"}, []float64{1, 1, 1, 1})
	vec := vecHits([]string{"D", "C", "B", "A"}, []float64{1, 1, 1, 1})

	first := Fuse(lex, vec, DefaultWeights(), 10)

	seen := map[string]bool{}
	for _, f := range first {
		assert.False(t, seen[f.ChunkID], "duplicate %s", f.ChunkID)
		seen[f.ChunkID] = true
	}
	// All tied: ordered by id
	assert.Equal(t, []string{"A", "B", "C", "D"}, fusedIDs(first))

	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Fuse(lex, vec, DefaultWeights(), 10))
	}
}

func TestFuse_WeightMonotonicity(t *testing.T) {
	// Given: lists that disagree on order, every chunk in both
	lex := lexHits([]string{"A", "B", "C", "D"}, []float64{4, 3, 2, 0})
	vec := vecHits([]string{"B", "C", "D", "A"}, []float64{1, 0.8, 0.6, 0})

	vectorRank := rankOf(Fuse(lex, vec, VectorOnly(), 10))

	for _, id := range []string{"A", "B", "C", "D"} {
		prevDist := -1
		// When: w_vec increases from 0 to 1
		for step := 0; step <= 20; step++ {
			wv := float64(step) / 20
			rank := rankOf(Fuse(lex, vec, Weights{Lexical: 1 - wv, Vector: wv}, 10))[id]

			// Then: the chunk never moves away from its vector-only rank
			dist := abs(rank - vectorRank[id])
			if prevDist >= 0 {
				assert.LessOrEqual(t, dist, prevDist, "chunk %s at w_vec=%.2f", id, wv)
			}
			prevDist = dist
		}
		assert.Zero(t, prevDist)
	}
}

func rankOf(fused []Fused) map[string]int {
	ranks := make(map[string]int, len(fused))
	for i, f := range fused {
		ranks[f.ChunkID] = i
	}
	return ranks
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func BenchmarkFuse(b *testing.B) {
	ids := make([]string, 100)
	scores := make([]float64, 100)
	for i := range ids {
		ids[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
		scores[i] = float64(100 - i)
	}
	lex := lexHits(ids, scores)
	vec := vecHits(ids, scores)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Fuse(lex, vec, DefaultWeights(), 10)
	}
}
