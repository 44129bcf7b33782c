// Package metrics expõe contadores Prometheus do rate gate e do upstream.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JeanGrijp/code-companion/internal/core/domain"
	"github.com/JeanGrijp/code-companion/internal/core/ports"
)

type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	upstreamTotal   *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
}

var _ ports.DecisionObserver = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_decisions_total",
				Help: "Total number of rate gate decisions by result",
			},
			[]string{"result", "degraded"},
		),
		upstreamTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inference_requests_total",
				Help: "Total number of upstream inference calls by outcome",
			},
			[]string{"outcome"},
		),
		upstreamLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inference_request_duration_seconds",
				Help:    "Duration of upstream inference calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
	}

	m.registry.MustRegister(
		m.decisions,
		m.upstreamTotal,
		m.upstreamLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveDecision(decision domain.Decision, err error) {
	result := "admitted"
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		result = "rejected"
	case errors.Is(err, domain.ErrStoreUnavailable):
		result = "store_unavailable"
	case err != nil:
		result = "error"
	case !decision.Allowed:
		result = "rejected"
	}

	degraded := "false"
	if decision.Degraded {
		degraded = "true"
	}
	m.decisions.WithLabelValues(result, degraded).Inc()
}

func (m *Metrics) ObserveUpstream(outcome string, seconds float64) {
	m.upstreamTotal.WithLabelValues(outcome).Inc()
	m.upstreamLatency.Observe(seconds)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
