// Package metrics exposes Prometheus counters for cell runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeUserInput   = "user_input"
	OutcomeConfig      = "config"
	OutcomeTransport   = "transport"
	OutcomeHostFailure = "host"
)

// Metrics holds the counters on their own registry.
type Metrics struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	messages *prometheus.CounterVec
}

// New registers the cellrun counters on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellrun",
			Name:      "runs_total",
			Help:      "Cell runs by outcome.",
		}, []string{"outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellrun",
			Name:      "kernel_messages_total",
			Help:      "Kernel iopub messages received, by message type.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(m.runs, m.messages)
	return m
}

// Run records one finished run.
func (m *Metrics) Run(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// Message records one kernel message.
func (m *Metrics) Message(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
