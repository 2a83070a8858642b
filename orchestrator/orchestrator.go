// Package orchestrator is the caller-facing facade over the engine: it
// validates workflow definitions, drives fresh runs and resumes through the
// execution driver, and translates every normalized event into a runtime
// state record stream.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/iyulab/ironbees/agent"
	"github.com/iyulab/ironbees/checkpoint"
	"github.com/iyulab/ironbees/events"
	"github.com/iyulab/ironbees/execution"
	"github.com/iyulab/ironbees/logger"
	"github.com/iyulab/ironbees/runtime"
	"github.com/iyulab/ironbees/version"
	"github.com/iyulab/ironbees/workflow"
)

// ErrNoCheckpointStore is returned by Resume when the orchestrator was built
// without a checkpoint store.
var ErrNoCheckpointStore = errors.New("no checkpoint store configured")

// phaseValidation marks error records produced before conversion starts.
const phaseValidation = "validation"

// runStateBuffer sizes each run's record channel.
const runStateBuffer = 16

// RunStatus is the caller-facing status on a runtime state record.
type RunStatus string

const (
	// RunStatusRunning covers every record until a terminal event arrives.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted is carried by the record of a Completed event.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed is carried by the record of an Error event,
	// including cancellation. The embedded event tells the two apart.
	RunStatusFailed RunStatus = "failed"
)

// RunState is one caller-facing record. Every record of a run carries the
// same execution id, workflow name, input and start time, so consumers can
// treat any record as a self-contained progress snapshot.
type RunState struct {
	ExecutionID  string                `json:"execution_id"`
	WorkflowName string                `json:"workflow_name"`
	Status       RunStatus             `json:"status"`
	Input        string                `json:"input,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	Event        events.ExecutionEvent `json:"event"`
	Timestamp    time.Time             `json:"timestamp"`
}

// Orchestrator validates, executes and resumes workflows. It is safe for
// concurrent use.
type Orchestrator struct {
	driver *execution.Driver
	store  checkpoint.Store
	bus    *events.Bus
	sem    *semaphore.Weighted
	now    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCheckpointStore enables durable checkpointing and resume.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithEventBus publishes every normalized event to bus listeners.
func WithEventBus(bus *events.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithMaxConcurrentRuns caps how many runs execute at once. Runs beyond the
// cap wait for a slot; zero or negative means unlimited.
func WithMaxConcurrentRuns(n int64) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(n)
		}
	}
}

// New creates an orchestrator over the given resolver and runtime.
func New(resolver agent.Resolver, rt runtime.Runtime, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	driverOpts := make([]execution.Option, 0, 2)
	if o.store != nil {
		driverOpts = append(driverOpts, execution.WithCheckpointStore(o.store))
	}
	if o.bus != nil {
		driverOpts = append(driverOpts, execution.WithEventBus(o.bus))
	}

	driver, err := execution.NewDriver(resolver, rt, driverOpts...)
	if err != nil {
		return nil, err
	}
	o.driver = driver

	logger.Debug("workflow engine initialized", version.GetBuildInfo()...)
	return o, nil
}

// Run validates def and, when it passes, executes it with the given input.
// The returned channel delivers one record per execution event and closes
// after the terminal record. Validation failure produces exactly one Failed
// record.
func (o *Orchestrator) Run(ctx context.Context, def workflow.Definition, input string) <-chan RunState {
	out := make(chan RunState, runStateBuffer)

	validation := workflow.ValidateForConversion(def)
	o.logFindings(def, validation)
	if !validation.IsValid() {
		out <- o.validationFailure(def, input, validation)
		close(out)
		return out
	}

	go o.drive(ctx, def, input, out)
	return out
}

// Resume continues the run recorded by the given checkpoint id.
func (o *Orchestrator) Resume(ctx context.Context, checkpointID string) (<-chan RunState, error) {
	if o.store == nil {
		return nil, ErrNoCheckpointStore
	}

	cp, err := o.store.Get(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %q: %w", checkpointID, err)
	}
	return o.resume(ctx, cp)
}

// ResumeLatest continues an execution from its most recent checkpoint.
func (o *Orchestrator) ResumeLatest(ctx context.Context, executionID string) (<-chan RunState, error) {
	if o.store == nil {
		return nil, ErrNoCheckpointStore
	}

	cp, err := o.store.GetLatest(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("loading latest checkpoint for execution %q: %w", executionID, err)
	}
	return o.resume(ctx, cp)
}

func (o *Orchestrator) resume(ctx context.Context, cp checkpoint.Data) (<-chan RunState, error) {
	exec, err := o.driver.Resume(ctx, cp)
	if err != nil {
		return nil, err
	}

	out := make(chan RunState, runStateBuffer)
	go func() {
		defer close(out)
		o.forward(exec, out)
	}()
	return out, nil
}

func (o *Orchestrator) drive(ctx context.Context, def workflow.Definition, input string, out chan<- RunState) {
	defer close(out)

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			out <- o.slotFailure(def, input, err)
			return
		}
		defer o.sem.Release(1)
	}

	exec := o.driver.Execute(ctx, def, input)
	o.forward(exec, out)
}

// forward translates an execution's event stream into runtime state
// records.
func (o *Orchestrator) forward(exec *execution.Execution, out chan<- RunState) {
	for event := range exec.Events() {
		out <- RunState{
			ExecutionID:  exec.ID,
			WorkflowName: exec.WorkflowName,
			Status:       statusFor(event),
			Input:        exec.Input,
			StartedAt:    exec.StartedAt,
			Event:        event,
			Timestamp:    event.Timestamp,
		}
	}
}

// validationFailure builds the single terminal record of an invalid
// definition. Nothing ran, so the record carries a fresh execution id.
func (o *Orchestrator) validationFailure(def workflow.Definition, input string, validation workflow.ConversionValidation) RunState {
	now := o.now()
	executionID := "exec-" + uuid.NewString()
	return RunState{
		ExecutionID:  executionID,
		WorkflowName: def.Name,
		Status:       RunStatusFailed,
		Input:        input,
		StartedAt:    now,
		Timestamp:    now,
		Event: events.ExecutionEvent{
			Type:         events.TypeError,
			ExecutionID:  executionID,
			WorkflowName: def.Name,
			Content:      validation.ErrorSummary(),
			Timestamp:    now,
			Metadata: map[string]string{
				events.MetadataErrorPhase: phaseValidation,
			},
		},
	}
}

// slotFailure builds the terminal record of a run cancelled while waiting
// for a concurrency slot.
func (o *Orchestrator) slotFailure(def workflow.Definition, input string, err error) RunState {
	now := o.now()
	executionID := "exec-" + uuid.NewString()
	logger.Info("run cancelled while waiting for a slot", "workflow", def.Name, "error", err)
	return RunState{
		ExecutionID:  executionID,
		WorkflowName: def.Name,
		Status:       RunStatusFailed,
		Input:        input,
		StartedAt:    now,
		Timestamp:    now,
		Event: events.ExecutionEvent{
			Type:         events.TypeError,
			ExecutionID:  executionID,
			WorkflowName: def.Name,
			Content:      err.Error(),
			Timestamp:    now,
			Metadata: map[string]string{
				events.MetadataCancelled: "true",
			},
		},
	}
}

func (o *Orchestrator) logFindings(def workflow.Definition, validation workflow.ConversionValidation) {
	if !validation.IsValid() {
		logger.Error("workflow validation failed",
			"workflow", def.Name,
			"errors", validation.ErrorSummary())
		return
	}
	for _, warning := range validation.Warnings {
		logger.Warn("workflow validation warning",
			"workflow", def.Name,
			"issue", warning.String())
	}
	for _, feature := range validation.UnsupportedFeatures {
		logger.Info("workflow uses an unsupported feature",
			"workflow", def.Name,
			"feature", feature)
	}
}

func statusFor(event events.ExecutionEvent) RunStatus {
	switch event.Type {
	case events.TypeCompleted:
		return RunStatusCompleted
	case events.TypeError:
		return RunStatusFailed
	default:
		return RunStatusRunning
	}
}
