// Package metrics exposes Prometheus collectors for the Travai backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "travai"

// Metrics holds all Prometheus metrics for the backend.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Token metrics
	TokensIssued *prometheus.CounterVec

	// Webhook metrics
	WebhookEvents *prometheus.CounterVec

	// Onboarding metrics
	AnswersSubmitted      prometheus.Counter
	OnboardingsCompleted  prometheus.Counter
	SessionsActive        prometheus.Gauge
	TranscriptionFailures prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"route"},
		),
		TokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_issued_total",
				Help:      "Access tokens requested, by outcome",
			},
			[]string{"status"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries, by event type and outcome",
			},
			[]string{"event", "status"},
		),
		AnswersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboarding_answers_total",
			Help:      "Answers submitted to onboarding sessions",
		}),
		OnboardingsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboarding_completed_total",
			Help:      "Onboarding sessions that reached completion",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "onboarding_sessions_active",
			Help:      "Onboarding sessions currently held in memory",
		}),
		TranscriptionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_failures_total",
			Help:      "Audio answers that could not be transcribed",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.TokensIssued,
		m.WebhookEvents,
		m.AnswersSubmitted,
		m.OnboardingsCompleted,
		m.SessionsActive,
		m.TranscriptionFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordToken records a token request outcome such as "ok", "invalid" or "unconfigured".
func (m *Metrics) RecordToken(status string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(status).Inc()
}

// RecordWebhook records a webhook delivery outcome.
func (m *Metrics) RecordWebhook(event, status string) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.WebhookEvents.WithLabelValues(event, status).Inc()
}

// RecordAnswer counts one submitted answer.
func (m *Metrics) RecordAnswer() {
	if m == nil {
		return
	}
	m.AnswersSubmitted.Inc()
}

// RecordCompletion counts one completed onboarding.
func (m *Metrics) RecordCompletion() {
	if m == nil {
		return
	}
	m.OnboardingsCompleted.Inc()
}

// RecordTranscriptionFailure counts one failed transcription.
func (m *Metrics) RecordTranscriptionFailure() {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
}

// SetActiveSessions sets the active session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}
