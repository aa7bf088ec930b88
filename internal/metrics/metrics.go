// Package metrics holds the Prometheus collectors for fetch routing and
// provider calls. Collectors live on a private registry served at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "marketlens"

// Fetch routes.
const (
	RoutePrimary   = "primary"
	RouteSecondary = "secondary"
	RouteFailed    = "failed"
)

// Request outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeRetry   = "retry"
	OutcomeBreaker = "breaker_open"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FetchSymbols     *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	LogEntries       *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		FetchSymbols: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_symbols_total",
			Help:      "Symbols served by each fetch route",
		}, []string{"route"}),
		ProviderRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider HTTP requests by outcome",
		}, []string{"provider", "outcome"}),
		ProviderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		LogEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_entries_total",
			Help:      "Log entries emitted at warn level or above",
		}, []string{"level"}),
	}
}

// Route counts n symbols served by route.
func (m *Metrics) Route(route string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FetchSymbols.WithLabelValues(route).Add(float64(n))
}

// Request records a provider call that started at start.
func (m *Metrics) Request(provider, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// LogHook returns a logrus hook counting warn, error and fatal entries.
func (m *Metrics) LogHook() logrus.Hook {
	return &logHook{m: m}
}

type logHook struct{ m *Metrics }

func (h *logHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.WarnLevel, logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel}
}

func (h *logHook) Fire(e *logrus.Entry) error {
	if h.m != nil {
		h.m.LogEntries.WithLabelValues(e.Level.String()).Inc()
	}
	return nil
}
