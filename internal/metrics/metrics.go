// Package metrics collects Prometheus metrics for the HTTP server and the
// media pipeline.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/hearth/media"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Compile-time check that Metrics observes pipeline events.
var _ media.Observer = (*Metrics)(nil)

// Metrics holds every collector, registered against one registry.
//
// Usage in main.go:
//
//	m := metrics.New(prometheus.NewRegistry())
//	e.Use(m.Middleware())
//	e.GET("/metrics", echo.WrapHandler(m.Handler()))
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP metrics
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	httpRequestsInFlight  prometheus.Gauge
	httpRequestSizeBytes  *prometheus.HistogramVec
	httpResponseSizeBytes *prometheus.HistogramVec

	// Media metrics
	mediaOperationsTotal   *prometheus.CounterVec
	mediaOperationDuration *prometheus.HistogramVec
	mediaEventsTotal       *prometheus.CounterVec
	mediaIncompleteSets    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		httpRequestSizeBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100B to 1GB
			},
			[]string{"method", "path"},
		),
		httpResponseSizeBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		mediaOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_media_operations_total",
				Help: "Total number of media pipeline operations",
			},
			[]string{"op", "status"},
		),
		mediaOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_media_operation_duration_seconds",
				Help:    "Media pipeline operation duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"op"},
		),
		mediaEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_media_events_total",
				Help: "Failures the media pipeline tolerated, by event type and store operation",
			},
			[]string{"type", "op"},
		),
		mediaIncompleteSets: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hearth_media_incomplete_rendition_sets",
				Help: "Originals missing renditions as of the last sweep",
			},
			[]string{"kind"},
		),
	}
}

// Middleware records request count, latency and sizes. The /metrics
// endpoint itself is skipped.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}

			start := time.Now()
			m.httpRequestsInFlight.Inc()
			defer m.httpRequestsInFlight.Dec()

			requestSize := float64(c.Request().ContentLength)
			if requestSize < 0 {
				requestSize = 0
			}

			err := next(c)

			// Write the error response now so the recorded status is the one
			// the client sees. The error handler skips committed responses.
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status

			method := c.Request().Method
			path := c.Path()

			m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			m.httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			m.httpRequestSizeBytes.WithLabelValues(method, path).Observe(requestSize)
			m.httpResponseSizeBytes.WithLabelValues(method, path).Observe(float64(c.Response().Size))

			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Observe counts a tolerated pipeline failure.
func (m *Metrics) Observe(_ context.Context, e media.Event) {
	m.mediaEventsTotal.WithLabelValues(string(e.Type), e.Op).Inc()
}

// RecordOperation records one pipeline operation and its outcome.
//
// Usage:
//
//	defer m.RecordOperation("upload", time.Now(), &err)
func (m *Metrics) RecordOperation(op string, start time.Time, errp *error) {
	status := "success"
	if errp != nil && *errp != nil {
		status = "failed"
	}
	m.mediaOperationsTotal.WithLabelValues(op, status).Inc()
	m.mediaOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SetIncompleteSets publishes the number of incomplete rendition sets the
// last sweep of kind found.
func (m *Metrics) SetIncompleteSets(kind string, n int) {
	m.mediaIncompleteSets.WithLabelValues(kind).Set(float64(n))
}
