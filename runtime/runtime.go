// Package runtime defines the contract between the execution driver and the
// agent-execution runtime that actually runs task graphs, plus a local
// in-process implementation of it.
//
// A runtime accepts a built task graph and an input, runs it, and emits a
// stream of native events. The driver treats those events as the runtime's
// raw vocabulary and maps them to the engine's normalized execution events.
// Checkpoints flow the other way: the runtime produces opaque resume tokens
// at super-step boundaries, and the driver hands one back to resume.
package runtime

import (
	"context"
	"errors"

	"github.com/iyulab/ironbees/graph"
)

// ErrNoGraph is returned when a run or resume request carries no task graph.
var ErrNoGraph = errors.New("task graph is required")

// EventKind identifies a native runtime event.
type EventKind string

// EventKind values.
const (
	// KindExecutorInvoked signals that an executor has been handed work.
	KindExecutorInvoked EventKind = "executor.invoked"
	// KindExecutorCompleted signals that an executor finished and carries
	// its output.
	KindExecutorCompleted EventKind = "executor.completed"
	// KindExecutorFailed signals that an executor failed; the run stops.
	KindExecutorFailed EventKind = "executor.failed"
	// KindSuperStepCompleted marks a checkpoint boundary between nodes.
	KindSuperStepCompleted EventKind = "superstep.completed"
)

// Event is one native runtime event. The stream closes after the last node
// completes or immediately after a KindExecutorFailed event.
type Event struct {
	Kind         EventKind
	ExecutorName string
	// Content is the executor output on KindExecutorCompleted.
	Content string
	// Err carries the failure on KindExecutorFailed.
	Err error
	// Checkpoint is set on KindSuperStepCompleted.
	Checkpoint *Checkpoint
}

// Checkpoint is a native resume token emitted at a super-step boundary.
type Checkpoint struct {
	// StateID names the definition state the run has completed through.
	StateID string
	// State is the runtime's opaque serialized position. Consumers persist
	// it verbatim and hand it back on resume.
	State []byte
}

// RunRequest describes one fresh streaming run.
type RunRequest struct {
	ExecutionID string
	Graph       *graph.TaskGraph
	// Input is the initial input handed to the first node.
	Input string
	// Checkpointing asks the runtime to emit KindSuperStepCompleted events
	// with resume tokens after every node.
	Checkpointing bool
}

// ResumeRequest continues a previous run from a native resume token.
type ResumeRequest struct {
	RunRequest
	// State is the token from the Checkpoint of an earlier run.
	State []byte
}

// Runtime is a streaming agent-execution runtime. Both entry points
// validate synchronously and then stream: a returned channel is always
// eventually closed, and the error return covers only pre-stream failures.
type Runtime interface {
	Run(ctx context.Context, req RunRequest) (<-chan Event, error)
	Resume(ctx context.Context, req ResumeRequest) (<-chan Event, error)
}
