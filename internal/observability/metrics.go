// Package observability carries the ambient metrics surface spec.md's
// Non-goals exclude as a *feature* (no distributed tracing, no built-in
// dashboards) but which the ambient stack still needs: the concurrency
// model (spec.md §5) is only operable in production with visibility into
// how close the system sits to its bounds. Grounded on the teacher's
// internal/observability package's use of
// github.com/prometheus/client_golang, trimmed from a full
// channel/LLM/tool/error metrics surface down to the gauges that describe
// spec.md §5's resource model specifically.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the Prometheus collectors that cmd/pegasus's wireMetrics
// updates from bus events and the Agent's occupancy.
type Metrics struct {
	ActiveTasks      prometheus.Gauge
	LLMSemInUse      prometheus.Gauge
	ToolSemInUse     prometheus.Gauge
	BusQueueDepth    prometheus.Gauge
	TasksCompleted   *prometheus.CounterVec
	ToolInvocations  *prometheus.CounterVec
}

// NewMetrics registers a fresh Metrics set against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pegasus",
			Name:      "active_tasks",
			Help:      "Number of tasks currently in a non-terminal state.",
		}),
		LLMSemInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pegasus",
			Name:      "llm_semaphore_in_use",
			Help:      "Concurrent LLM calls currently holding a semaphore slot.",
		}),
		ToolSemInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pegasus",
			Name:      "tool_semaphore_in_use",
			Help:      "Concurrent tool executions currently holding a semaphore slot.",
		}),
		BusQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pegasus",
			Name:      "bus_queue_depth",
			Help:      "Number of events recorded in the event bus ring buffer.",
		}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pegasus",
			Name:      "tasks_completed_total",
			Help:      "Tasks reaching a terminal state, labeled by outcome.",
		}, []string{"outcome"}),
		ToolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pegasus",
			Name:      "tool_invocations_total",
			Help:      "Tool executions, labeled by tool name and outcome.",
		}, []string{"tool", "outcome"}),
	}
}
