package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the live session engine.
// All methods are safe to call on a nil *Metrics so components can run
// without instrumentation (e.g. in tests).
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	sessionsCreated     prometheus.Counter
	activeSessions      prometheus.Gauge
	sessionTransitions  *prometheus.CounterVec
	processStarts       *prometheus.CounterVec
	processExits        *prometheus.CounterVec
	uploadsTotal        *prometheus.CounterVec
	uploadDuration      *prometheus.HistogramVec
	firstPublishLatency prometheus.Histogram
	keyExchanges        *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_sessions_created_total",
			Help: "Total number of stream sessions created",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_sessions_active",
			Help: "Number of sessions in a non-terminal state",
		}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_session_transitions_total",
			Help: "Session status transitions, by target status",
		}, []string{"to"}),
		processStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_process_starts_total",
			Help: "External process launches, by role and result",
		}, []string{"role", "result"}),
		processExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_process_exits_total",
			Help: "External process exits, by role and outcome",
		}, []string{"role", "outcome"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_publish_uploads_total",
			Help: "Artifact uploads to object storage, by kind and result",
		}, []string{"kind", "result"}),
		uploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "live_publish_upload_duration_seconds",
			Help:    "Duration of a single artifact upload",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"}),
		firstPublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "live_first_publish_latency_seconds",
			Help:    "Time from transcoder launch to the first completed upload",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		keyExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_drm_key_exchanges_total",
			Help: "DRM key exchanges, by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsCreated,
		m.activeSessions,
		m.sessionTransitions,
		m.processStarts,
		m.processExits,
		m.uploadsTotal,
		m.uploadDuration,
		m.firstPublishLatency,
		m.keyExchanges,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncSessionsCreated increments the created sessions counter.
func (m *Metrics) IncSessionsCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ObserveTransition counts a status change into status `to`.
func (m *Metrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(to).Inc()
}

// ObserveProcessStart records a launch attempt for role ("transcoder", "packager", "simulator").
func (m *Metrics) ObserveProcessStart(role string, err error) {
	if m == nil {
		return
	}
	m.processStarts.WithLabelValues(role, result(err)).Inc()
}

// ObserveProcessExit records how a process ended ("clean", "error", "interrupted").
func (m *Metrics) ObserveProcessExit(role, outcome string) {
	if m == nil {
		return
	}
	m.processExits.WithLabelValues(role, outcome).Inc()
}

// ObserveUpload records one upload attempt of the given artifact kind.
func (m *Metrics) ObserveUpload(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(kind, result(err)).Inc()
	if err == nil {
		m.uploadDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// ObserveFirstPublish records the launch-to-first-upload latency of a session.
func (m *Metrics) ObserveFirstPublish(d time.Duration) {
	if m == nil {
		return
	}
	m.firstPublishLatency.Observe(d.Seconds())
}

// ObserveKeyExchange records the outcome of a DRM key exchange.
func (m *Metrics) ObserveKeyExchange(err error) {
	if m == nil {
		return
	}
	m.keyExchanges.WithLabelValues(result(err)).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
