// Package metrics exposes Prometheus instrumentation for the PlanForge
// server: HTTP latency, decomposition and simulation outcomes, and LLM
// provider calls.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/planforge/planforge/provider"
)

// Metrics holds all collectors on a private registry so tests can run
// side by side without duplicate registration panics.
type Metrics struct {
	reg *prometheus.Registry

	httpDuration   *prometheus.HistogramVec
	decompositions *prometheus.CounterVec
	simulations    *prometheus.CounterVec
	simulatedTasks prometheus.Counter
	llmRequests    *prometheus.CounterVec
	llmDuration    prometheus.Histogram
}

// New creates a Metrics with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "planforge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route, method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
		decompositions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planforge",
			Name:      "decompositions_total",
			Help:      "Decomposition requests by outcome.",
		}, []string{"outcome"}),
		simulations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planforge",
			Name:      "simulations_total",
			Help:      "Simulation runs by outcome.",
		}, []string{"outcome"}),
		simulatedTasks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "planforge",
			Name:      "simulated_tasks_total",
			Help:      "Tasks processed across all simulation runs.",
		}),
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planforge",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM chat requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		llmDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "planforge",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM chat request latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// Handler returns the scrape endpoint for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Instrument wraps an HTTP handler, recording request duration under the
// given route label. The route is the registered pattern, not the raw
// URL, so label cardinality stays bounded.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	obs := m.httpDuration.MustCurryWith(prometheus.Labels{"route": route})
	return promhttp.InstrumentHandlerDuration(obs, next)
}

// ObserveDecomposition records one decomposition request outcome.
func (m *Metrics) ObserveDecomposition(err error) {
	m.decompositions.WithLabelValues(outcome(err)).Inc()
}

// ObserveSimulation records one simulation run outcome and the number of
// tasks it processed.
func (m *Metrics) ObserveSimulation(err error, tasks int) {
	m.simulations.WithLabelValues(outcome(err)).Inc()
	if tasks > 0 {
		m.simulatedTasks.Add(float64(tasks))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// WrapProvider decorates an LLM provider so every chat call is counted
// and timed.
func (m *Metrics) WrapProvider(p provider.Provider) provider.Provider {
	return &measuredProvider{inner: p, metrics: m}
}

type measuredProvider struct {
	inner   provider.Provider
	metrics *Metrics
}

func (p *measuredProvider) Name() string { return p.inner.Name() }

func (p *measuredProvider) Chat(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	start := time.Now()
	resp, err := p.inner.Chat(ctx, messages)
	p.metrics.llmDuration.Observe(time.Since(start).Seconds())
	p.metrics.llmRequests.WithLabelValues(p.inner.Name(), outcome(err)).Inc()
	return resp, err
}
