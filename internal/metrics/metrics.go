package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	reportsGenerated  *prometheus.CounterVec
	reportDuration    *prometheus.HistogramVec
	intervalsIngested *prometheus.CounterVec
	ingestRejected    *prometheus.CounterVec
	feedErrors        *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		reportsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coverage_reports_generated_total",
			Help: "Coverage reports generated by domain and period.",
		}, []string{"domain", "period"}),
		reportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coverage_report_duration_seconds",
			Help:    "Time spent building a coverage report.",
			Buckets: prometheus.DefBuckets,
		}, []string{"domain"}),
		intervalsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coverage_intervals_ingested_total",
			Help: "Intervals stored by domain and ingest source.",
		}, []string{"domain", "source"}),
		ingestRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coverage_ingest_rejected_total",
			Help: "Ingest batches or events rejected by domain and source.",
		}, []string{"domain", "source"}),
		feedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coverage_feed_errors_total",
			Help: "Submission feed errors by stage (fetch, decode, ingest, commit).",
		}, []string{"stage"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.reportsGenerated,
		m.reportDuration,
		m.intervalsIngested,
		m.ingestRejected,
		m.feedErrors,
		m.breakerState,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP counts a served request and records its latency.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ReportGenerated records how long building a report took.
func (m *Metrics) ReportGenerated(domain, period string, d time.Duration) {
	if m == nil {
		return
	}
	m.reportsGenerated.WithLabelValues(domain, period).Inc()
	m.reportDuration.WithLabelValues(domain).Observe(d.Seconds())
}

// IntervalsIngested adds n newly stored intervals.
func (m *Metrics) IntervalsIngested(domain, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.intervalsIngested.WithLabelValues(domain, source).Add(float64(n))
}

// IngestRejected counts a batch refused for an invalid record.
func (m *Metrics) IngestRejected(domain, source string) {
	if m == nil {
		return
	}
	m.ingestRejected.WithLabelValues(domain, source).Inc()
}

// FeedError counts a submission feed failure at the given stage.
func (m *Metrics) FeedError(stage string) {
	if m == nil {
		return
	}
	m.feedErrors.WithLabelValues(stage).Inc()
}

// BreakerState publishes the circuit breaker state of target
// (0 closed, 1 half-open, 2 open).
func (m *Metrics) BreakerState(target string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(target).Set(float64(state))
}
