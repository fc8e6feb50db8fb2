// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	StatsQueriesTotal    *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	QueryResultsCount    prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	DocumentsReceived    prometheus.Counter
	DocumentsAnalyzed    *prometheus.CounterVec
	TermsCountedTotal    prometheus.Counter
	RecomputesTotal      *prometheus.CounterVec
	RecomputeDuration    prometheus.Histogram
	CorpusDocuments      *prometheus.GaugeVec
	ActiveCorpora        prometheus.Gauge
	EventsDroppedTotal   prometheus.Counter
	RPCRequestsTotal     *prometheus.CounterVec
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
		StatsQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stats_queries_total",
				Help: "Total statistics queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stats_query_latency_seconds",
				Help:    "Statistics query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stats_query_results_count",
				Help:    "Number of records returned per statistics query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		DocumentsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_received_total",
				Help: "Total documents accepted by the ingestion service.",
			},
		),
		DocumentsAnalyzed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "documents_analyzed_total",
				Help: "Total documents processed by the analyzer, by outcome (analyzed, failed, duplicate).",
			},
			[]string{"status"},
		),
		TermsCountedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "terms_counted_total",
				Help: "Total term occurrences added to corpus tables.",
			},
		),
		RecomputesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stats_recomputes_total",
				Help: "Total corpus statistics recomputations by status.",
			},
			[]string{"status"},
		),
		RecomputeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stats_recompute_duration_seconds",
				Help:    "Wall time of a full corpus statistics recomputation.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		CorpusDocuments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "corpus_document_count",
				Help: "Number of analyzed documents per corpus.",
			},
			[]string{"corpus"},
		),
		ActiveCorpora: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_corpora",
				Help: "Number of corpora with an in-memory count table.",
			},
		),
		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_events_dropped_total",
				Help: "Usage events dropped because the collector buffer was full.",
			},
		),
		RPCRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_requests_total",
				Help: "Internal RPC requests by method and status.",
			},
			[]string{"method", "status"},
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
		m.StatsQueriesTotal,
		m.QueryLatency,
		m.QueryResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocumentsReceived,
		m.DocumentsAnalyzed,
		m.TermsCountedTotal,
		m.RecomputesTotal,
		m.RecomputeDuration,
		m.CorpusDocuments,
		m.ActiveCorpora,
		m.EventsDroppedTotal,
		m.RPCRequestsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
