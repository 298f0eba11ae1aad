// Package telemetry provides Prometheus metrics and in-process query
// statistics for woochi. Nothing leaves the process unless the caller exposes
// the registry.
package telemetry

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// RetrievalBuckets spans in-memory lookups (1ms) to remote embedding calls (10s).
var RetrievalBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10}

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Metrics holds the woochi collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	RetrievalsTotal     *prometheus.CounterVec
	RetrievalDuration   *prometheus.HistogramVec
	IngestTotal         *prometheus.CounterVec
	IngestChunksTotal   *prometheus.CounterVec
	ProviderErrorsTotal *prometheus.CounterVec
	CircuitState        *prometheus.GaugeVec
	CollectionChunks    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// gets a fresh private registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		RetrievalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "woochi_retrievals_total",
				Help: "Retrieval requests by collection and outcome",
			},
			[]string{"collection", "outcome"},
		),
		RetrievalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "woochi_retrieval_duration_seconds",
				Help:    "Retrieval latency",
				Buckets: RetrievalBuckets,
			},
			[]string{"collection"},
		),
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "woochi_ingest_total",
				Help: "Ingest batches by collection and outcome",
			},
			[]string{"collection", "outcome"},
		),
		IngestChunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "woochi_ingest_chunks_total",
				Help: "Chunks committed by ingest",
			},
			[]string{"collection"},
		),
		ProviderErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "woochi_provider_errors_total",
				Help: "Embedding provider failures by operation and error code",
			},
			[]string{"op", "code"},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "woochi_circuit_state",
				Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"breaker"},
		),
		CollectionChunks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "woochi_collection_chunks",
				Help: "Chunks held by each READY collection",
			},
			[]string{"collection"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.RetrievalsTotal,
		m.RetrievalDuration,
		m.IngestTotal,
		m.IngestChunksTotal,
		m.ProviderErrorsTotal,
		m.CircuitState,
		m.CollectionChunks,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m, nil
}

// ObserveRetrieval records one retrieval.
func (m *Metrics) ObserveRetrieval(collection, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalsTotal.WithLabelValues(collection, outcome).Inc()
	m.RetrievalDuration.WithLabelValues(collection).Observe(elapsed.Seconds())
}

// ObserveIngest records one ingest batch and, on success, its chunk count.
func (m *Metrics) ObserveIngest(collection, outcome string, chunks int) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(collection, outcome).Inc()
	if outcome == OutcomeOK && chunks > 0 {
		m.IngestChunksTotal.WithLabelValues(collection).Add(float64(chunks))
	}
}

// ProviderError counts a failed embedding call.
func (m *Metrics) ProviderError(op, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.ProviderErrorsTotal.WithLabelValues(op, code).Inc()
}

// SetCircuitState records a breaker's state as its numeric value.
func (m *Metrics) SetCircuitState(breaker string, state int) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(breaker).Set(float64(state))
}

// SetCollectionChunks records the size of a READY collection.
func (m *Metrics) SetCollectionChunks(collection string, n int) {
	if m == nil {
		return
	}
	m.CollectionChunks.WithLabelValues(collection).Set(float64(n))
}

// ForgetCollection removes the per-collection gauge of a dropped collection.
func (m *Metrics) ForgetCollection(collection string) {
	if m == nil {
		return
	}
	m.CollectionChunks.DeleteLabelValues(collection)
}

// Gather returns the woochi metric families. It returns nil when the
// registerer passed to NewMetrics cannot gather.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	if m == nil || m.gatherer == nil {
		return nil, nil
	}
	families, err := m.gatherer.Gather()
	if err != nil {
		return nil, err
	}
	out := families[:0]
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "woochi_") {
			out = append(out, mf)
		}
	}
	return out, nil
}

// WriteSummary prints one line per series: counters and gauges with their
// value, histograms with count and sum.
func WriteSummary(w io.Writer, families []*dto.MetricFamily) error {
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := formatLabels(metric.GetLabel())
			var err error
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				_, err = fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), labels, metric.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				_, err = fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), labels, metric.GetGauge().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				_, err = fmt.Fprintf(w, "%s%s count=%d sum=%.6fs\n", mf.GetName(), labels, h.GetSampleCount(), h.GetSampleSum())
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	slices.Sort(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
