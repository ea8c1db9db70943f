package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Derived-view cache and HTTP metrics.
var (
	// View reads: result is hit, miss, not_found or error.
	ViewReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_view_reads_total",
			Help: "Total number of derived-view reads",
		},
		[]string{"view", "result"},
	)

	// View refreshes after a mutation: result is refreshed, evicted or failed.
	ViewRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_view_refreshes_total",
			Help: "Total number of derived-view refresh attempts triggered by mutations",
		},
		[]string{"view", "result"},
	)

	ViewRecomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookshelf_view_recompute_duration_seconds",
			Help:    "Time spent recomputing a view from the document store",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"view"},
	)

	FilteredViewsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookshelf_filtered_views_tracked",
			Help: "Number of filtered-query views currently tracked by the limiter",
		},
	)

	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_mutations_total",
			Help: "Total number of committed catalogue mutations",
		},
		[]string{"kind", "op"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookshelf_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
