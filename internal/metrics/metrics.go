package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments of the retrieval pipeline
type Metrics struct {
	PagesFetched  prometheus.Counter
	FetchFailures *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	StaleServed   prometheus.Counter
	Retained      prometheus.Gauge
	Evictions     prometheus.Counter
}

// New creates the metrics and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "trialwatch_registry_pages_fetched_total",
			Help: "Total number of registry pages fetched successfully",
		}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trialwatch_registry_fetch_failures_total",
			Help: "Total number of aborted fetches by failure kind",
		}, []string{"kind"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trialwatch_registry_fetch_duration_seconds",
			Help:    "Wall time of complete paginated fetches",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "trialwatch_snapshot_cache_hits_total",
			Help: "Requests answered from a fresh cached snapshot",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "trialwatch_snapshot_cache_misses_total",
			Help: "Requests that required loading a snapshot",
		}),
		StaleServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "trialwatch_snapshot_cache_stale_served_total",
			Help: "Requests answered with a stale snapshot after a failed refresh",
		}),
		Retained: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trialwatch_snapshot_cache_entries",
			Help: "Number of query snapshots currently held",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "trialwatch_snapshot_cache_evictions_total",
			Help: "Snapshots dropped to keep the cache within its size limit",
		}),
	}
}

// Nop returns metrics registered on a private registry, for tests and tools
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) IncrementPagesFetched() {
	m.PagesFetched.Inc()
}

func (m *Metrics) IncrementFetchFailures(kind string) {
	m.FetchFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveFetchDuration(d time.Duration) {
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) IncrementCacheHits() {
	m.CacheHits.Inc()
}

func (m *Metrics) IncrementCacheMisses() {
	m.CacheMisses.Inc()
}

func (m *Metrics) IncrementStaleServed() {
	m.StaleServed.Inc()
}

func (m *Metrics) SetRetained(n int) {
	m.Retained.Set(float64(n))
}

func (m *Metrics) IncrementEvictions() {
	m.Evictions.Inc()
}
