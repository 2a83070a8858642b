package prometheus

import (
	"strings"
	"sync"
	"time"

	"github.com/iyulab/ironbees/events"
)

// Status constants for metric labels.
const (
	statusSuccess   = "success"
	statusError     = "error"
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusCancelled = "cancelled"
)

// MetricsListener records execution events as Prometheus metrics.
// It implements the events.Listener signature and should be registered
// with an event bus using SubscribeAll.
//
// The listener keeps start timestamps per execution and per agent task so
// terminal events yield duration observations. Runs resumed mid-flight have
// no observed start; their outcomes are counted without durations.
type MetricsListener struct {
	mu         sync.Mutex
	executions map[string]time.Time
	agents     map[string]time.Time
}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{
		executions: make(map[string]time.Time),
		agents:     make(map[string]time.Time),
	}
}

// Handle processes an event and records relevant metrics.
// This method is designed to be used with EventBus.SubscribeAll.
func (l *MetricsListener) Handle(event events.ExecutionEvent) {
	RecordEvent(string(event.Type))

	//exhaustive:ignore
	switch event.Type {
	case events.TypeStarted:
		l.executionStarted(event)
	case events.TypeAgentStarted:
		l.agentStarted(event)
	case events.TypeAgentCompleted:
		l.agentFinished(event, statusSuccess)
	case events.TypeSuperStepCompleted:
		RecordSuperStep(event.WorkflowName, event.Metadata[events.MetadataCheckpointID] != "")
	case events.TypeCompleted:
		l.executionFinished(event, statusCompleted)
	case events.TypeError:
		if event.AgentName != "" {
			l.agentFinished(event, statusError)
		}
		status := statusFailed
		if event.IsCancellation() {
			status = statusCancelled
		}
		l.executionFinished(event, status)
	default:
		// Counted by RecordEvent above, nothing else to record.
	}
}

// Listener returns an events.Listener function that can be registered with
// an event bus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}

func (l *MetricsListener) executionStarted(event events.ExecutionEvent) {
	l.mu.Lock()
	l.executions[event.ExecutionID] = event.Timestamp
	l.mu.Unlock()

	RecordExecutionStart()
}

func (l *MetricsListener) executionFinished(event events.ExecutionEvent, status string) {
	duration := -1.0

	l.mu.Lock()
	if startedAt, ok := l.executions[event.ExecutionID]; ok {
		duration = event.Timestamp.Sub(startedAt).Seconds()
		delete(l.executions, event.ExecutionID)
	}
	// Drop any agent tasks the run left unfinished.
	prefix := event.ExecutionID + "/"
	for key := range l.agents {
		if strings.HasPrefix(key, prefix) {
			delete(l.agents, key)
		}
	}
	l.mu.Unlock()

	RecordExecutionEnd(event.WorkflowName, status, duration)
}

func (l *MetricsListener) agentStarted(event events.ExecutionEvent) {
	l.mu.Lock()
	l.agents[agentKey(event)] = event.Timestamp
	l.mu.Unlock()
}

func (l *MetricsListener) agentFinished(event events.ExecutionEvent, status string) {
	duration := -1.0

	l.mu.Lock()
	if startedAt, ok := l.agents[agentKey(event)]; ok {
		duration = event.Timestamp.Sub(startedAt).Seconds()
		delete(l.agents, agentKey(event))
	}
	l.mu.Unlock()

	RecordAgentTask(event.AgentName, status, duration)
}

func agentKey(event events.ExecutionEvent) string {
	return event.ExecutionID + "/" + event.AgentName
}
