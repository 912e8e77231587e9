// Package metrics exposes runtime counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studio_brain"

// Metrics owns a private registry so tests and multiple runtimes in one
// process never collide on the global default.
type Metrics struct {
	registry            *prometheus.Registry
	decisions           *prometheus.CounterVec
	jobRuns             *prometheus.CounterVec
	consecutiveFailures *prometheus.GaugeVec
	circuitOpen         *prometheus.GaugeVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_decisions_total",
			Help:      "Execute decisions by capability and outcome.",
		}, []string{"capability", "outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_job_runs_total",
			Help:      "Background job runs by job and result.",
		}, []string{"job", "result"}),
		consecutiveFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state_job_consecutive_failures",
			Help:      "Consecutive failed runs per background job. Alert on this.",
		}, []string{"job"}),
		circuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connector_circuit_open",
			Help:      "1 while a connector's circuit breaker is open.",
		}, []string{"connector"}),
	}
	m.registry.MustRegister(
		m.decisions,
		m.jobRuns,
		m.consecutiveFailures,
		m.circuitOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveDecision counts one execute outcome ("allowed", "BLOCKED_BY_POLICY",
// "QUOTA_EXCEEDED", "failed", ...).
func (m *Metrics) ObserveDecision(capabilityID, outcome string) {
	m.decisions.WithLabelValues(capabilityID, outcome).Inc()
}

// ObserveJobRun counts one job run and publishes the failure streak.
func (m *Metrics) ObserveJobRun(job string, ok bool, consecutiveFailures int) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.consecutiveFailures.WithLabelValues(job).Set(float64(consecutiveFailures))
}

// SetCircuitOpen implements connector.CircuitObserver.
func (m *Metrics) SetCircuitOpen(connectorID string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.circuitOpen.WithLabelValues(connectorID).Set(v)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
