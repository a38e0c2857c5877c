// Package observability exposes the orchestrator's health checks and
// Prometheus metrics over HTTP.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lifecycle metrics
	agentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_agent_transitions_total",
			Help: "Total number of agent lifecycle transitions",
		},
		[]string{"status"},
	)

	agentsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orch_agents",
			Help: "Number of registered agents by status",
		},
		[]string{"status"},
	)

	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_health_probes_total",
			Help: "Total number of agent health probes",
		},
		[]string{"outcome"},
	)

	// Routing metrics
	routedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_routed_messages_total",
			Help: "Total number of routed messages by terminal status",
		},
		[]string{"status"},
	)

	workflowStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_workflow_steps_total",
			Help: "Total number of workflow steps executed",
		},
		[]string{"status"},
	)

	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orch_agent_query_duration_seconds",
			Help:    "Agent query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

var metricsOnce sync.Once

// InitMetrics registers all metrics with the default registry.
func InitMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			agentTransitionsTotal,
			agentsGauge,
			probesTotal,
			routedMessagesTotal,
			workflowStepsTotal,
			queryDuration,
		)
	})
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordTransition counts an agent entering a lifecycle status.
func RecordTransition(status string) {
	agentTransitionsTotal.WithLabelValues(status).Inc()
}

// SetAgentCount sets the gauge for agents in a given status.
func SetAgentCount(status string, n int) {
	agentsGauge.WithLabelValues(status).Set(float64(n))
}

// RecordProbe counts a health probe outcome ("ok" or "failed").
func RecordProbe(outcome string) {
	probesTotal.WithLabelValues(outcome).Inc()
}

// RecordRoutedMessage counts a routed message reaching a terminal status.
func RecordRoutedMessage(status string) {
	routedMessagesTotal.WithLabelValues(status).Inc()
}

// RecordWorkflowStep counts a workflow step result ("success" or "error").
func RecordWorkflowStep(status string) {
	workflowStepsTotal.WithLabelValues(status).Inc()
}

// ObserveQueryDuration records the duration of one agent query.
func ObserveQueryDuration(status string, d time.Duration) {
	queryDuration.WithLabelValues(status).Observe(d.Seconds())
}
