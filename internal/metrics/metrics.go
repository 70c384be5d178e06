// Package metrics counts the address book operations for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of an operation.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the collectors of one service instance. A nil *Metrics counts nothing.
type Metrics struct {
	registry                 *prometheus.Registry
	operations               *prometheus.CounterVec
	moveSourceDeleteFailures prometheus.Counter
}

// New returns the collectors registered on their own registry, together with the Go runtime
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "addressbooks_operations_total",
			Help: "Number of address book operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		moveSourceDeleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "addressbooks_move_source_delete_failures_total",
			Help: "Number of moved contacts that could not be removed from the source address book.",
		}),
	}
	m.registry.MustRegister(
		m.operations,
		m.moveSourceDeleteFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe counts one call of an operation.
func (m *Metrics) Observe(operation string, failed bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if failed {
		outcome = OutcomeFailure
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// MoveSourceDeleteFailed counts a contact left behind in the source address book of a move.
func (m *Metrics) MoveSourceDeleteFailed() {
	if m == nil {
		return
	}
	m.moveSourceDeleteFailures.Inc()
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
