// Package metrics defines the Prometheus metric collectors used across the
// index engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	MutationsTotal       *prometheus.CounterVec
	MutationDuration     *prometheus.HistogramVec
	QueriesTotal         *prometheus.CounterVec
	QueryDuration        *prometheus.HistogramVec
	QueryResultsCount    prometheus.Histogram
	LiveDocuments        prometheus.Gauge
	TombstonedDocuments  prometheus.Gauge
	CompactionsTotal     *prometheus.CounterVec
	CompactionDuration   prometheus.Histogram
	CompactionRowsPurged *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_mutations_total",
				Help: "Total index mutations by operation (insert, delete, modify) and status.",
			},
			[]string{"op", "status"},
		),
		MutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_mutation_duration_seconds",
				Help:    "Mutation latency in seconds by operation.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"op"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by mode and outcome (hit, zero_result, error).",
			},
			[]string{"mode", "outcome"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_query_duration_seconds",
				Help:    "Search query latency in seconds by mode.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"mode"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		LiveDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_live_documents",
				Help: "Number of live documents in the catalog.",
			},
		),
		TombstonedDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_tombstoned_documents",
				Help: "Number of tombstoned documents awaiting compaction.",
			},
		),
		CompactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_compactions_total",
				Help: "Total compaction runs by trigger (manual, threshold) and status.",
			},
			[]string{"trigger", "status"},
		),
		CompactionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_compaction_duration_seconds",
				Help:    "Compaction duration in seconds including storage rewrite.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),
		CompactionRowsPurged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_compaction_rows_purged_total",
				Help: "Rows physically removed by compaction, by relation.",
			},
			[]string{"relation"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.MutationsTotal,
		m.MutationDuration,
		m.QueriesTotal,
		m.QueryDuration,
		m.QueryResultsCount,
		m.LiveDocuments,
		m.TombstonedDocuments,
		m.CompactionsTotal,
		m.CompactionDuration,
		m.CompactionRowsPurged,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
