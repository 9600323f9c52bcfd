// Package metrics exposes workflow, estimation and relay counters in the
// Prometheus text format.
//
// Metrics:
//
//	printflow_transitions_total{role,outcome}          committed and refused transitions
//	printflow_estimates_issued_total{machine}          computations started by a pipeline
//	printflow_estimates_superseded_total{machine}      computations discarded by newer input
//	printflow_estimates_delivered_total{machine,kind}  results handed to the UI
//	printflow_estimate_latency_seconds{machine}        input-to-delivery latency
//	printflow_notifications_relayed_total{role,result} outbox delivery attempts
//
// Each Collector owns its registry so several can coexist in one process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

const namespace = "printflow"

// Collector records metrics for the dossier service, the estimation
// pipelines and the notification relay
type Collector struct {
	registry *prometheus.Registry

	transitions         *prometheus.CounterVec
	estimatesIssued     *prometheus.CounterVec
	estimatesSuperseded *prometheus.CounterVec
	estimatesDelivered  *prometheus.CounterVec
	estimateLatency     *prometheus.HistogramVec
	notifications       *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry, including the Go
// runtime and process collectors
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Transition requests by actor role and outcome (OK or refusal reason)",
		}, []string{"role", "outcome"}),
		estimatesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimates_issued_total",
			Help:      "Estimate computations started",
		}, []string{"machine"}),
		estimatesSuperseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimates_superseded_total",
			Help:      "Estimate computations discarded because newer input arrived",
		}, []string{"machine"}),
		estimatesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimates_delivered_total",
			Help:      "Estimate results delivered, by kind",
		}, []string{"machine", "kind"}),
		estimateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimate_latency_seconds",
			Help:      "Time from the triggering input change to delivery",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.3, 0.4, 0.5, 0.75, 1, 2.5, 5, 10},
		}, []string{"machine"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_relayed_total",
			Help:      "Outbox delivery attempts by recipient role and result",
		}, []string{"role", "result"}),
	}

	c.registry.MustRegister(
		c.transitions,
		c.estimatesIssued,
		c.estimatesSuperseded,
		c.estimatesDelivered,
		c.estimateLatency,
		c.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collector writes to
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// TransitionRecorded counts one transition outcome
func (c *Collector) TransitionRecorded(role domainwf.Role, outcome string) {
	c.transitions.WithLabelValues(role.String(), outcome).Inc()
}

// EstimateIssued counts a computation start
func (c *Collector) EstimateIssued(machine domainwf.MachineType) {
	c.estimatesIssued.WithLabelValues(machine.String()).Inc()
}

// EstimateSuperseded counts a discarded computation
func (c *Collector) EstimateSuperseded(machine domainwf.MachineType) {
	c.estimatesSuperseded.WithLabelValues(machine.String()).Inc()
}

// EstimateDelivered counts a delivery and observes its latency
func (c *Collector) EstimateDelivered(machine domainwf.MachineType, kind string, latency time.Duration) {
	c.estimatesDelivered.WithLabelValues(machine.String(), kind).Inc()
	c.estimateLatency.WithLabelValues(machine.String()).Observe(latency.Seconds())
}

// NotificationRelayed counts one outbox delivery attempt
func (c *Collector) NotificationRelayed(role string, delivered bool) {
	result := "failed"
	if delivered {
		result = "delivered"
	}
	c.notifications.WithLabelValues(role, result).Inc()
}
