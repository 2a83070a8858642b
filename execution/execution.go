package execution

import (
	"sync"
	"time"

	"github.com/iyulab/ironbees/events"
)

// Status is the lifecycle state of one run.
type Status string

const (
	// StatusNotStarted is the initial state before the driver picks the
	// run up.
	StatusNotStarted Status = "not_started"
	// StatusRunning means the run is producing events.
	StatusRunning Status = "running"
	// StatusCompleted means the run finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the run ended with a terminal error.
	StatusFailed Status = "failed"
	// StatusCancelled means the run was cancelled by the caller.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is absorbing: once a run reaches a
// terminal status it never transitions again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Execution is the handle for one run. The driver returns it immediately;
// progress arrives on Events and the lifecycle state on Status.
type Execution struct {
	// ID uniquely identifies this run and groups its checkpoints. A
	// resumed run keeps the original id.
	ID string
	// WorkflowName is the name of the definition being executed.
	WorkflowName string
	// Input is the original input, carried unchanged across resumes.
	Input string
	// StartedAt is when the run first started, carried unchanged across
	// resumes.
	StartedAt time.Time

	mu     sync.RWMutex
	status Status

	queue *eventQueue
	out   chan events.ExecutionEvent
}

func newExecution(id, workflowName, input string, startedAt time.Time) *Execution {
	e := &Execution{
		ID:           id,
		WorkflowName: workflowName,
		Input:        input,
		StartedAt:    startedAt,
		status:       StatusNotStarted,
		queue:        newEventQueue(),
		out:          make(chan events.ExecutionEvent),
	}
	go e.queue.drainTo(e.out)
	return e
}

// Events returns this run's normalized event stream. The channel closes
// after the terminal event; iterating it to completion never blocks the
// driver.
func (e *Execution) Events() <-chan events.ExecutionEvent {
	return e.out
}

// Status returns the current lifecycle state.
func (e *Execution) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// setStatus advances the lifecycle. Terminal states absorb all later
// transitions.
func (e *Execution) setStatus(status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.IsTerminal() {
		return
	}
	e.status = status
}
