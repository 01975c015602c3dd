package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts cache reads by record kind (value|file|forecast|return_period)
	// and result (hit|miss|expired|healed).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcache_cache_lookups_total",
			Help: "Total number of cache lookups",
		},
		[]string{"kind", "result"},
	)

	// FallbackResults counts orchestrated requests by category and where the data came from
	// (cache|network|stale|none).
	FallbackResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcache_fallback_results_total",
			Help: "Total number of orchestrated data requests by outcome",
		},
		[]string{"category", "source"},
	)

	// UpstreamFetchLatency measures upstream fetch durations by category and status (success|failure).
	UpstreamFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowcache_upstream_fetch_seconds",
			Help:    "Upstream fetch latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category", "status"},
	)

	// SweepDeleted counts records removed by maintenance sweeps, by record kind.
	SweepDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcache_sweep_deleted_total",
			Help: "Total number of cache records removed by sweeps",
		},
		[]string{"kind"},
	)

	// CacheBytes tracks the advisory total size of the cache (files plus store).
	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowcache_cache_bytes",
			Help: "Advisory total bytes occupied by the cache",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowcache_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RecoveredPanics counts handler panics converted into 500 responses.
	RecoveredPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcache_recovered_panics_total",
			Help: "Handler panics recovered by the HTTP middleware",
		},
		[]string{"path"},
	)
)
