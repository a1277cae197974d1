package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for mediapack
type Metrics struct {
	// HTTP metrics (dev server)
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Build metrics
	buildsTotal         *prometheus.CounterVec
	buildDuration       prometheus.Histogram
	bundleDuration      *prometheus.HistogramVec
	bundleOutputBytes   *prometheus.GaugeVec
	bundleFailuresTotal *prometheus.CounterVec

	// Live reload metrics
	reloadClients prometheus.Gauge
	reloadsTotal  *prometheus.CounterVec

	// Publish metrics
	publishOperationsTotal *prometheus.CounterVec
	publishBytesTotal      prometheus.Counter

	// System metrics
	systemUptime prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics creates and registers all Prometheus metrics. Metrics are
// registered with the default registry once; later calls return the same
// instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediapack_http_requests_total",
				Help: "Total number of HTTP requests served by the dev server",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediapack_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		httpResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediapack_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediapack_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		buildsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediapack_builds_total",
				Help: "Total number of builds by mode and result",
			},
			[]string{"mode", "status"},
		),
		buildDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mediapack_build_duration_seconds",
				Help:    "Duration of a full build in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		bundleDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediapack_bundle_duration_seconds",
				Help:    "Duration of a single bundle build in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		bundleOutputBytes: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mediapack_bundle_output_bytes",
				Help: "Size of the last output written for each bundle",
			},
			[]string{"bundle", "kind"},
		),
		bundleFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediapack_bundle_failures_total",
				Help: "Total number of failed bundle builds",
			},
			[]string{"bundle", "kind"},
		),

		reloadClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediapack_livereload_clients",
				Help: "Current number of connected live reload clients",
			},
		),
		reloadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediapack_reloads_total",
				Help: "Total number of reload broadcasts by type",
			},
			[]string{"type"},
		),

		publishOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediapack_publish_operations_total",
				Help: "Total number of publish operations by provider and result",
			},
			[]string{"provider", "status"},
		),
		publishBytesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mediapack_publish_bytes_total",
				Help: "Total bytes uploaded by publish",
			},
		),

		systemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediapack_uptime_seconds",
				Help: "Dev server uptime in seconds",
			},
		),
	}
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		path := normalizePath(c.Path())
		method := c.Method()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := statusClass(c.Response().StatusCode())
		responseSize := len(c.Response().Body())

		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		m.httpResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))

		return err
	}
}

// RecordBuild records a finished build
func (m *Metrics) RecordBuild(mode string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.buildsTotal.WithLabelValues(mode, status).Inc()
	m.buildDuration.Observe(duration.Seconds())
}

// RecordBundle records one bundle build
func (m *Metrics) RecordBundle(name, kind string, outputBytes int, duration time.Duration, err error) {
	m.bundleDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err != nil {
		m.bundleFailuresTotal.WithLabelValues(name, kind).Inc()
		return
	}
	m.bundleOutputBytes.WithLabelValues(name, kind).Set(float64(outputBytes))
}

// UpdateReloadClients sets the number of connected live reload clients
func (m *Metrics) UpdateReloadClients(n int) {
	m.reloadClients.Set(float64(n))
}

// RecordReload records a reload broadcast
func (m *Metrics) RecordReload(kind string) {
	m.reloadsTotal.WithLabelValues(kind).Inc()
}

// RecordPublish records an upload, or a skipped unchanged object
func (m *Metrics) RecordPublish(provider, status string, bytes int64) {
	m.publishOperationsTotal.WithLabelValues(provider, status).Inc()
	if bytes > 0 {
		m.publishBytesTotal.Add(float64(bytes))
	}
}

// UpdateUptime updates the system uptime metric
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.systemUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// normalizePath keeps label cardinality bounded. Proxied page paths are
// arbitrary, so everything outside the static route collapses to a
// single label.
func normalizePath(path string) string {
	switch {
	case len(path) > 50:
		return "long_path"
	case path == "" || path == "/":
		return path
	case strings.HasPrefix(path, "/media/"), strings.HasPrefix(path, "/__mediapack/"), strings.HasPrefix(path, "/api/"):
		return path
	default:
		return "proxied"
	}
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
