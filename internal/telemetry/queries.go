package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Query Event
// =============================================================================

// QueryEvent describes one completed retrieval.
type QueryEvent struct {
	Collection  string
	Query       string
	ResultCount int
	Degraded    bool
	Latency     time.Duration
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		n := copy(result, b.items[b.head:])
		copy(result[n:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// =============================================================================
// Query Stats
// =============================================================================

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryStatsSnapshot is an immutable copy of QueryStats.
type QueryStatsSnapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	DegradedQueries     int64                   `json:"degraded_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *QueryStatsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// QueryStatsConfig sizes the bounded structures of QueryStats.
type QueryStatsConfig struct {
	TopTermsCapacity      int // default 100
	ZeroResultsCapacity   int // default 100
	RecentQueriesCapacity int // default 500
}

// QueryStats aggregates query patterns in memory. Safe for concurrent use.
type QueryStats struct {
	mu sync.Mutex

	topTerms      *lru.Cache[string, int64]
	recentQueries *lru.Cache[string, struct{}]
	zeroResults   *CircularBuffer[string]
	latencies     map[LatencyBucket]int64

	total       int64
	degraded    int64
	zeroResult  int64
	exactRepeat int64
	since       time.Time
}

// NewQueryStats creates a collector; zero config fields take defaults.
func NewQueryStats(cfg QueryStatsConfig) *QueryStats {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}

	// lru.New only fails for a non-positive size.
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	return &QueryStats{
		topTerms:      topTerms,
		recentQueries: recent,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:     make(map[LatencyBucket]int64),
		since:         time.Now(),
	}
}

// Record captures one retrieval. A nil receiver records nothing.
func (s *QueryStats) Record(event QueryEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if event.Degraded {
		s.degraded++
	}
	for _, term := range ExtractTerms(event.Query) {
		count, _ := s.topTerms.Get(term)
		s.topTerms.Add(term, count+1)
	}
	if event.ResultCount == 0 {
		s.zeroResult++
		s.zeroResults.Add(event.Query)
	}
	s.latencies[LatencyToBucket(event.Latency)]++

	key := hashQuery(event.Collection, event.Query)
	if _, seen := s.recentQueries.Get(key); seen {
		s.exactRepeat++
	}
	s.recentQueries.Add(key, struct{}{})
}

// Snapshot returns the current aggregates. Top terms are ordered by count
// descending, then term ascending.
func (s *QueryStats) Snapshot() *QueryStatsSnapshot {
	if s == nil {
		return &QueryStatsSnapshot{LatencyDistribution: map[LatencyBucket]int64{}}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var terms []TermCount
	for _, key := range s.topTerms.Keys() {
		if count, ok := s.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	slices.SortFunc(terms, func(a, b TermCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Term, b.Term)
	})

	latencies := make(map[LatencyBucket]int64, len(s.latencies))
	for k, v := range s.latencies {
		latencies[k] = v
	}

	return &QueryStatsSnapshot{
		TotalQueries:        s.total,
		DegradedQueries:     s.degraded,
		ZeroResultCount:     s.zeroResult,
		ExactRepeatCount:    s.exactRepeat,
		TopTerms:            terms,
		ZeroResultQueries:   s.zeroResults.Items(),
		LatencyDistribution: latencies,
		Since:               s.since,
	}
}

// ExtractTerms lowercases the query and keeps whitespace-separated words of
// at least two runes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(w) >= 2 {
			terms = append(terms, w)
		}
	}
	return terms
}

func hashQuery(collection, query string) string {
	h := sha256.Sum256([]byte(collection + "\x00" + strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(h[:16])
}
