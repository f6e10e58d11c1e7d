// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Image processing is slow compared to an API call; buckets go up to two minutes.
var latencyBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// Payload sizes from 1 KiB to 1 GiB.
var sizeBuckets = prometheus.ExponentialBuckets(1024, 4, 11)

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	PayloadBytes *prometheus.HistogramVec
	Rejections   *prometheus.CounterVec

	BackendDuration  *prometheus.HistogramVec
	BackendResponses *prometheus.CounterVec

	CleanupRemovals *prometheus.CounterVec
	CleanupFailures prometheus.Counter

	Notifications *prometheus.CounterVec

	// paths are the bounded path label values; see NormalizePath.
	paths []string
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		paths:    append([]string(nil), routePaths...),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "image_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "image_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: latencyBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "image_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		PayloadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "image_relay_payload_bytes",
			Help:    "Size of accepted uploads in bytes.",
			Buckets: sizeBuckets,
		}, []string{"ingestion_mode"}),

		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "image_relay_ingest_rejections_total",
			Help: "Uploads rejected during ingestion, by reason.",
		}, []string{"reason"}),

		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "image_relay_backend_request_duration_seconds",
			Help:    "Backend call latency in seconds.",
			Buckets: latencyBuckets,
		}, []string{"backend_mode"}),

		BackendResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "image_relay_backend_responses_total",
			Help: "Total backend outcomes by mode and status code (\"error\" for transport failures).",
		}, []string{"backend_mode", "status_code"}),

		CleanupRemovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "image_relay_cleanup_removals_total",
			Help: "Temporary files removed after a request completed, by kind.",
		}, []string{"kind"}),

		CleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "image_relay_cleanup_failures_total",
			Help: "Temporary files that could not be removed.",
		}),

		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "image_relay_notifications_total",
			Help: "Contact notifications by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.PayloadBytes,
		m.Rejections,
		m.BackendDuration,
		m.BackendResponses,
		m.CleanupRemovals,
		m.CleanupFailures,
		m.Notifications,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// routePaths are the relay's own routes, always tracked as path labels.
var routePaths = []string{"/process-image", "/upload", "/send-email", "/healthz", "/relay/status"}

// TrackPath adds a configured route, such as the metrics scrape path, to the
// path label values. Call it before serving requests.
func (m *Metrics) TrackPath(path string) {
	if path == "" {
		return
	}
	for _, p := range m.paths {
		if p == path {
			return
		}
	}
	m.paths = append(m.paths, path)
}

// NormalizePath returns a bounded path label: the tracked route path or one
// of its subpaths maps to the route, everything else to "other".
func (m *Metrics) NormalizePath(path string) string {
	for _, prefix := range m.paths {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return prefix
		}
	}
	return "other"
}
