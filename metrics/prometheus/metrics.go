// Package prometheus provides Prometheus metrics for the workflow engine.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ironbees"

var (
	// executionsActive is a gauge of currently running executions.
	executionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_active",
			Help:      "Number of currently running workflow executions",
		},
	)

	// executionsTotal is a counter of finished executions.
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of finished workflow executions",
		},
		[]string{"workflow", "status"}, // status: completed, failed, cancelled
	)

	// executionDuration is a histogram of execution duration in seconds.
	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Histogram of workflow execution duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	// agentTasksTotal is a counter of agent task outcomes.
	agentTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tasks_total",
			Help:      "Total number of agent tasks by outcome",
		},
		[]string{"agent", "status"}, // status: success, error
	)

	// agentTaskDuration is a histogram of agent task duration in seconds.
	agentTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_task_duration_seconds",
			Help:      "Histogram of agent task duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"agent"},
	)

	// superStepsTotal is a counter of completed super-steps.
	superStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "super_steps_total",
			Help:      "Total number of completed super-steps",
		},
		[]string{"workflow"},
	)

	// checkpointSavesTotal is a counter of checkpoint records written.
	checkpointSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Total number of checkpoint records written",
		},
		[]string{"workflow"},
	)

	// eventsTotal is a counter of normalized execution events.
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of normalized execution events",
		},
		[]string{"type"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		executionsActive,
		executionsTotal,
		executionDuration,
		agentTasksTotal,
		agentTaskDuration,
		superStepsTotal,
		checkpointSavesTotal,
		eventsTotal,
	}
)

// RecordExecutionStart records an execution entering the running state.
func RecordExecutionStart() {
	executionsActive.Inc()
}

// RecordExecutionEnd records a finished execution. A negative duration
// means the start was never observed (a resumed run); the outcome is still
// counted but no duration is recorded and the active gauge is left alone.
func RecordExecutionEnd(workflowName, status string, durationSeconds float64) {
	executionsTotal.WithLabelValues(workflowName, status).Inc()
	if durationSeconds >= 0 {
		executionsActive.Dec()
		executionDuration.WithLabelValues(status).Observe(durationSeconds)
	}
}

// RecordAgentTask records one agent task outcome. A negative duration means
// the matching start was never observed and only the outcome is counted.
func RecordAgentTask(agentName, status string, durationSeconds float64) {
	agentTasksTotal.WithLabelValues(agentName, status).Inc()
	if durationSeconds >= 0 {
		agentTaskDuration.WithLabelValues(agentName).Observe(durationSeconds)
	}
}

// RecordSuperStep records a completed super-step and, when a checkpoint
// record was written for it, the save.
func RecordSuperStep(workflowName string, checkpointed bool) {
	superStepsTotal.WithLabelValues(workflowName).Inc()
	if checkpointed {
		checkpointSavesTotal.WithLabelValues(workflowName).Inc()
	}
}

// RecordEvent counts one normalized execution event.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}
