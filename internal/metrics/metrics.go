// Package metrics exposes login and session counters in Prometheus format.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taigabridge"

// Login outcomes.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeRateLimited        = "rate_limited"
	OutcomeConcurrencyLimit   = "concurrency_limit"
	OutcomeError              = "error"
)

// Reaper kinds.
const (
	KindSessions   = "sessions"
	KindIdentities = "identities"
)

// Metrics owns its registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	loginAttempts *prometheus.CounterVec
	lockouts      prometheus.Counter
	reaperRemoved *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "Identities locked out after repeated failures.",
		}),
		reaperRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_removed_total",
			Help:      "Entries reclaimed by the background reaper.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.loginAttempts,
		m.lockouts,
		m.reaperRemoved,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry. A nil *Metrics serves 404.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGauges exposes the live sizes of the session registry and the rate limiter.
func (m *Metrics) RegisterGauges(sessions, identities func() int) error {
	if m == nil {
		return nil
	}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Session records currently held, including expired ones not yet reaped.",
		}, func() float64 { return float64(sessions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_identities",
			Help:      "Identities with throttle state.",
		}, func() float64 { return float64(identities()) }),
	}
	for _, g := range gauges {
		if err := m.registry.Register(g); err != nil {
			return fmt.Errorf("register gauge: %w", err)
		}
	}
	return nil
}

func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) ReaperRemoved(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaperRemoved.WithLabelValues(kind).Add(float64(n))
}
