// Package metrics provides the Prometheus collectors for provider fan-out
// and the page cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricProviderRequests = "metastream_provider_requests_total"
	MetricProviderLatency  = "metastream_provider_latency_seconds"
	MetricProviderResults  = "metastream_provider_results_total"
	MetricCacheLookups     = "metastream_cache_lookups_total"
	MetricPrefetches       = "metastream_prefetch_total"
	MetricQueryResets      = "metastream_query_resets_total"
)

// Provider call outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeMalformed = "malformed"
)

// Cache lookup results.
const (
	LookupHit  = "hit"
	LookupMiss = "miss"
)

// Prefetch outcomes.
const (
	PrefetchStored  = "stored"
	PrefetchStale   = "stale"
	PrefetchSkipped = "skipped"
)

// Metrics contains the collectors. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	providerResults  *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	prefetches       *prometheus.CounterVec
	queryResets      prometheus.Counter
}

// New creates the collectors. They are not registered; call Register.
func New() *Metrics {
	return &Metrics{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricProviderRequests,
			Help: "Provider search calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricProviderLatency,
			Help:    "Provider search call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		}, []string{"provider"}),
		providerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricProviderResults,
			Help: "Records returned by successful provider calls",
		}, []string{"provider"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCacheLookups,
			Help: "Page cache lookups by result",
		}, []string{"result"}),
		prefetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefetches,
			Help: "Background next-page fetches by outcome",
		}, []string{"outcome"}),
		queryResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricQueryResets,
			Help: "Number of times a new query invalidated the page cache",
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.providerRequests,
		m.providerLatency,
		m.providerResults,
		m.cacheLookups,
		m.prefetches,
		m.queryResets,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveProvider records one provider call.
func (m *Metrics) ObserveProvider(provider, outcome string, elapsed time.Duration, results int) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	if outcome == OutcomeOK {
		m.providerResults.WithLabelValues(provider).Add(float64(results))
	}
}

// IncCacheLookup counts a page cache hit or miss.
func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// IncPrefetch counts a finished prefetch.
func (m *Metrics) IncPrefetch(outcome string) {
	if m == nil {
		return
	}
	m.prefetches.WithLabelValues(outcome).Inc()
}

// IncQueryReset counts a query change.
func (m *Metrics) IncQueryReset() {
	if m == nil {
		return
	}
	m.queryResets.Inc()
}
