// Package events defines the normalized execution event stream emitted
// while a workflow runs, and a lightweight pub/sub bus that fans events out
// to observability listeners.
package events

import "time"

// Type identifies the kind of execution event.
type Type string

const (
	// TypeStarted is emitted once at the beginning of a fresh run, before
	// the task graph is built.
	TypeStarted Type = "execution.started"
	// TypeAgentStarted marks an agent beginning work.
	TypeAgentStarted Type = "agent.started"
	// TypeAgentMessage carries intermediate content produced by an agent.
	TypeAgentMessage Type = "agent.message"
	// TypeAgentCompleted marks an agent finishing, with its output as
	// content.
	TypeAgentCompleted Type = "agent.completed"
	// TypeSuperStepCompleted marks a runtime super-step boundary and
	// carries the native checkpoint payload.
	TypeSuperStepCompleted Type = "superstep.completed"
	// TypeCompleted marks the successful end of the run.
	TypeCompleted Type = "execution.completed"
	// TypeError is the terminal event of a failed or cancelled run.
	TypeError Type = "execution.error"
)

// Metadata keys written by the execution driver.
const (
	// MetadataStateCount carries the definition's state count on Started.
	MetadataStateCount = "state_count"
	// MetadataEngineVersion carries the engine version on Started.
	MetadataEngineVersion = "engine_version"
	// MetadataPattern carries the classified graph pattern.
	MetadataPattern = "pattern"
	// MetadataStateID names the workflow state a super-step completed.
	MetadataStateID = "state_id"
	// MetadataCheckpointID names the checkpoint record written for a
	// super-step.
	MetadataCheckpointID = "checkpoint_id"
	// MetadataErrorType carries the Go type of the error behind an Error
	// event.
	MetadataErrorType = "error_type"
	// MetadataErrorPhase names the phase that produced an Error event
	// (conversion, runtime, persistence).
	MetadataErrorPhase = "error_phase"
	// MetadataCancelled is "true" on an Error event caused by
	// cancellation.
	MetadataCancelled = "cancelled"
)

// ExecutionEvent is one normalized event in a run's stream. Events are
// immutable, produced in strict temporal order, and never retracted.
// AgentName, Content and Checkpoint are set only where the Type calls for
// them.
type ExecutionEvent struct {
	Type         Type              `json:"type"`
	ExecutionID  string            `json:"execution_id"`
	WorkflowName string            `json:"workflow_name"`
	AgentName    string            `json:"agent_name,omitempty"`
	Content      string            `json:"content,omitempty"`
	Checkpoint   []byte            `json:"checkpoint,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// IsTerminal reports whether the event ends its stream.
func (e ExecutionEvent) IsTerminal() bool {
	return e.Type == TypeCompleted || e.Type == TypeError
}

// IsCancellation reports whether the event is the terminal marker of a
// cancelled run.
func (e ExecutionEvent) IsCancellation() bool {
	return e.Type == TypeError && e.Metadata[MetadataCancelled] == "true"
}
