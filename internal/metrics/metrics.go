// Package metrics holds the Prometheus collectors for simulation runs
// and implements the engine's telemetry recorder.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for PortRun.
type Registry struct {
	reg *prometheus.Registry

	// Engine timing
	StepDuration     prometheus.Histogram
	OptimizeDuration *prometheus.HistogramVec

	// Engine activity
	Trades      *prometheus.CounterVec
	Rebalances  prometheus.Counter
	Fallbacks   prometheus.Counter
	StaleQuotes *prometheus.CounterVec

	// Portfolio state
	Equity *prometheus.GaugeVec
}

// NewRegistry creates the collectors on a dedicated Prometheus registry
// so independent runs never collide on registration.
func NewRegistry() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "portrun_step_duration_seconds",
				Help:    "Duration of each simulation step in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		OptimizeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portrun_optimize_duration_seconds",
				Help:    "Duration of policy optimization calls in seconds",
				Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"policy"},
		),

		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portrun_trades_total",
				Help: "Total number of executed orders by side",
			},
			[]string{"side"},
		),

		Rebalances: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portrun_rebalances_total",
				Help: "Total number of executed rebalance points",
			},
		),

		Fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portrun_fallbacks_total",
				Help: "Rebalances that fell back to the secondary policy",
			},
		),

		StaleQuotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portrun_stale_quotes_total",
				Help: "Steps where a held symbol had no quote, by symbol",
			},
			[]string{"symbol"},
		),

		Equity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portrun_equity",
				Help: "Current total portfolio value by policy",
			},
			[]string{"policy"},
		),
	}

	m.reg.MustRegister(
		m.StepDuration,
		m.OptimizeDuration,
		m.Trades,
		m.Rebalances,
		m.Fallbacks,
		m.StaleQuotes,
		m.Equity,
	)

	return m
}

// ObserveStep records one simulation step duration.
func (m *Registry) ObserveStep(d time.Duration) {
	m.StepDuration.Observe(d.Seconds())
}

// ObserveOptimize records one policy optimization duration.
func (m *Registry) ObserveOptimize(policyName string, d time.Duration) {
	m.OptimizeDuration.WithLabelValues(policyName).Observe(d.Seconds())
}

// CountTrade records one executed order.
func (m *Registry) CountTrade(side string) {
	m.Trades.WithLabelValues(side).Inc()
}

// CountRebalance records one rebalance point, flagging fallback use.
func (m *Registry) CountRebalance(fallback bool) {
	m.Rebalances.Inc()
	if fallback {
		m.Fallbacks.Inc()
	}
}

// CountStaleQuote records a step where symbol had no quote.
func (m *Registry) CountStaleQuote(symbol string) {
	m.StaleQuotes.WithLabelValues(symbol).Inc()
}

// SetEquity updates the portfolio value gauge for a policy.
func (m *Registry) SetEquity(policyName string, value float64) {
	m.Equity.WithLabelValues(policyName).Set(value)
}

// Handler exposes the registry in Prometheus text format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry for test inspection.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}
