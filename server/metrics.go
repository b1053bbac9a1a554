package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the host's Prometheus collectors. Each host owns its
// registry so several hosts (and tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	dispatchErrors *prometheus.CounterVec
	busyWorkers    prometheus.Gauge
	rejected       *prometheus.CounterVec
}

// NewMetrics registers the host collectors on reg. A nil reg gets a fresh
// registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		registry: reg,
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "appbridge_requests_total",
				Help: "Total number of requests dispatched to the application by method and status",
			},
			[]string{"method", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "appbridge_request_duration_milliseconds",
				Help: "Time from accept to response end in milliseconds",
				Buckets: []float64{
					1,     // static-ish responses
					5,     // 5ms
					10,    // 10ms
					25,    // 25ms
					50,    // 50ms
					100,   // 100ms
					250,   // 250ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s - slow reports/exports
					30000, // 30s
				},
			},
			[]string{"method"},
		),
		inFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "appbridge_requests_in_flight",
				Help: "Requests accepted and not yet answered, including those waiting for a worker",
			},
		),
		dispatchErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "appbridge_dispatch_errors_total",
				Help: "Application failures caught at the dispatch boundary",
			},
			[]string{"kind"}, // "error", "panic", "nil_response", "timeout"
		),
		busyWorkers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "appbridge_workers_busy",
				Help: "Workers currently running a request",
			},
		),
		rejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "appbridge_requests_rejected_total",
				Help: "Requests answered by the host without reaching the application",
			},
			[]string{"reason"}, // "too_large", "bad_body", "stopping"
		),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observe(method string, status int, elapsed time.Duration) {
	method = methodLabel(method)
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method).Observe(float64(elapsed) / float64(time.Millisecond))
}

// methodLabel keeps the method label bounded; clients may send any token.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodConnect,
		http.MethodOptions, http.MethodTrace:
		return method
	}
	return "other"
}
