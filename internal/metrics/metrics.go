// Package metrics exposes Prometheus counters and histograms for the
// retrieval service on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hybridkb"

// Metrics holds the collectors recorded by the service and the HTTP layer.
type Metrics struct {
	registry *prometheus.Registry

	searches        *prometheus.CounterVec
	searchDuration  *prometheus.HistogramVec
	searchResults   *prometheus.HistogramVec
	documents       *prometheus.CounterVec
	chunks          *prometheus.CounterVec
	embedFailures   *prometheus.CounterVec
	jobs            *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with its own registry. Go runtime and
// process collectors are registered alongside the service metrics.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.searches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_total",
		Help:      "Search requests by mode and outcome",
	}, []string{"mode", "status"})

	m.searchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Search latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	m.searchResults = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_results",
		Help:      "Number of results returned per search",
		Buckets:   []float64{0, 1, 3, 5, 10, 20, 50},
	}, []string{"mode"})

	m.documents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "documents_ingested_total",
		Help:      "Documents processed by the ingestion pipeline",
	}, []string{"knowledge_base", "outcome"})

	m.chunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_embedded_total",
		Help:      "Chunks embedded per provider",
	}, []string{"provider"})

	m.embedFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_failures_total",
		Help:      "Embedding provider failures",
	}, []string{"provider"})

	m.jobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Background jobs by type and terminal status",
	}, []string{"type", "status"})

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.searches,
		m.searchDuration,
		m.searchResults,
		m.documents,
		m.chunks,
		m.embedFailures,
		m.jobs,
		m.requests,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one search. A nil receiver is a no-op so callers
// don't need to guard optional metrics.
func (m *Metrics) ObserveSearch(mode string, took time.Duration, results int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.searches.WithLabelValues(mode, status).Inc()
	m.searchDuration.WithLabelValues(mode).Observe(took.Seconds())
	if err == nil {
		m.searchResults.WithLabelValues(mode).Observe(float64(results))
	}
}

// ObserveIngest records the outcome of one AddDocument call. outcome is
// one of "indexed", "skipped" or "failed".
func (m *Metrics) ObserveIngest(kbID, outcome string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(kbID, outcome).Inc()
}

// AddEmbedded counts chunks that received a vector from provider.
func (m *Metrics) AddEmbedded(provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunks.WithLabelValues(provider).Add(float64(n))
}

// EmbeddingFailed counts one failed provider call.
func (m *Metrics) EmbeddingFailed(provider string) {
	if m == nil {
		return
	}
	m.embedFailures.WithLabelValues(provider).Inc()
}

// JobFinished counts a job reaching a terminal status.
func (m *Metrics) JobFinished(jobType, status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(jobType, status).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
