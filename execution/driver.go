// Package execution drives workflow runs end to end. The Driver builds the
// executable task graph, hands it to the external runtime, maps the native
// event stream to normalized execution events, and persists checkpoints at
// super-step boundaries so runs can be resumed after a crash.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/iyulab/ironbees/agent"
	"github.com/iyulab/ironbees/checkpoint"
	"github.com/iyulab/ironbees/events"
	"github.com/iyulab/ironbees/graph"
	"github.com/iyulab/ironbees/logger"
	"github.com/iyulab/ironbees/runtime"
	"github.com/iyulab/ironbees/version"
	"github.com/iyulab/ironbees/workflow"
)

var (
	// ErrNilResolver is returned by NewDriver without an agent resolver.
	ErrNilResolver = errors.New("agent resolver is required")
	// ErrNilRuntime is returned by NewDriver without an execution runtime.
	ErrNilRuntime = errors.New("execution runtime is required")
	// ErrMissingWorkflowContext is returned by Resume when the checkpoint
	// carries no workflow context blob and the graph cannot be rebuilt.
	ErrMissingWorkflowContext = errors.New("checkpoint has no workflow context")
)

// Error phases recorded in terminal Error event metadata.
const (
	phaseConversion  = "conversion"
	phaseRuntime     = "runtime"
	phasePersistence = "persistence"
)

// Driver runs workflow definitions against an external runtime. A single
// driver is safe for concurrent use; each Execute or Resume call produces an
// independent Execution.
type Driver struct {
	resolver agent.Resolver
	rt       runtime.Runtime
	store    checkpoint.Store
	bus      *events.Bus
	now      func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithCheckpointStore enables durable checkpointing. When set, the driver
// requests super-step checkpoints from the runtime and synchronously
// persists one record per super-step before continuing.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(d *Driver) {
		d.store = store
	}
}

// WithEventBus publishes every normalized event to bus listeners in
// addition to the execution's own stream.
func WithEventBus(bus *events.Bus) Option {
	return func(d *Driver) {
		d.bus = bus
	}
}

// WithTimeFunc overrides the clock used for event and checkpoint
// timestamps.
func WithTimeFunc(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDriver creates a driver over the given resolver and runtime.
func NewDriver(resolver agent.Resolver, rt runtime.Runtime, opts ...Option) (*Driver, error) {
	if resolver == nil {
		return nil, ErrNilResolver
	}
	if rt == nil {
		return nil, ErrNilRuntime
	}

	d := &Driver{
		resolver: resolver,
		rt:       rt,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Execute starts a fresh run of def with the given input and returns its
// handle immediately. A Started event is always emitted first, before the
// task graph is built; every later failure surfaces as a terminal Error
// event on the stream, never as a Go error from this method.
func (d *Driver) Execute(ctx context.Context, def workflow.Definition, input string) *Execution {
	exec := newExecution("exec-"+uuid.NewString(), def.Name, input, d.now())
	go d.run(ctx, def, input, exec)
	return exec
}

// Resume continues a run from a previously persisted checkpoint. The task
// graph is rebuilt from the checkpoint's preserved workflow context; the
// original input and start time carry forward unchanged so downstream
// consumers see one continuous execution. New checkpoints get fresh ids and
// never overwrite the source record.
func (d *Driver) Resume(ctx context.Context, cp checkpoint.Data) (*Execution, error) {
	if len(cp.Context) == 0 {
		return nil, fmt.Errorf("checkpoint %q: %w", cp.CheckpointID, ErrMissingWorkflowContext)
	}

	var def workflow.Definition
	if err := json.Unmarshal(cp.Context, &def); err != nil {
		return nil, fmt.Errorf("decoding workflow context of checkpoint %q: %w", cp.CheckpointID, err)
	}
	d.checkEngineVersion(cp)

	exec := newExecution(cp.ExecutionID, def.Name, cp.Input, cp.ExecutionStartedAt)
	go d.resume(ctx, def, cp, exec)
	return exec, nil
}

func (d *Driver) run(ctx context.Context, def workflow.Definition, input string, exec *Execution) {
	defer exec.queue.close()
	exec.setStatus(StatusRunning)

	d.emit(exec, events.ExecutionEvent{
		Type: events.TypeStarted,
		Metadata: map[string]string{
			events.MetadataStateCount:    strconv.Itoa(len(def.States)),
			events.MetadataEngineVersion: version.GetVersion(),
		},
	})

	g, err := graph.NewBuilder(d.resolver).Build(ctx, def)
	if err != nil {
		d.fail(exec, err, phaseConversion, "")
		return
	}
	logger.Debug("task graph built",
		"execution_id", exec.ID,
		"workflow", def.Name,
		"pattern", string(g.Pattern),
		"agents", g.AgentCount())

	workflowContext, err := d.encodeContext(def)
	if err != nil {
		d.fail(exec, err, phasePersistence, "")
		return
	}

	stream, err := d.rt.Run(ctx, runtime.RunRequest{
		ExecutionID:   exec.ID,
		Graph:         g,
		Input:         input,
		Checkpointing: d.store != nil,
	})
	if err != nil {
		d.fail(exec, err, phaseRuntime, "")
		return
	}

	d.drain(ctx, exec, g, workflowContext, stream)
}

func (d *Driver) resume(ctx context.Context, def workflow.Definition, cp checkpoint.Data, exec *Execution) {
	defer exec.queue.close()
	exec.setStatus(StatusRunning)

	g, err := graph.NewBuilder(d.resolver).Build(ctx, def)
	if err != nil {
		d.fail(exec, err, phaseConversion, "")
		return
	}
	logger.Debug("task graph rebuilt for resume",
		"execution_id", exec.ID,
		"workflow", def.Name,
		"checkpoint_id", cp.CheckpointID,
		"state_id", cp.CurrentStateID)

	stream, err := d.rt.Resume(ctx, runtime.ResumeRequest{
		RunRequest: runtime.RunRequest{
			ExecutionID:   exec.ID,
			Graph:         g,
			Input:         cp.Input,
			Checkpointing: d.store != nil,
		},
		State: cp.NativeState,
	})
	if err != nil {
		d.fail(exec, err, phaseRuntime, "")
		return
	}

	d.drain(ctx, exec, g, cp.Context, stream)
}

// drain consumes the runtime's native event stream until it closes or a
// terminal condition arrives, mapping each native event to its normalized
// form.
func (d *Driver) drain(ctx context.Context, exec *Execution, g *graph.TaskGraph, workflowContext []byte, stream <-chan runtime.Event) {
	for {
		select {
		case <-ctx.Done():
			d.cancelled(exec, ctx.Err())
			return
		case native, ok := <-stream:
			if !ok {
				// The runtime closes its stream on cancellation too;
				// a dead context wins over a clean-looking close.
				if ctx.Err() != nil {
					d.cancelled(exec, ctx.Err())
					return
				}
				d.complete(exec, g)
				return
			}
			if terminal := d.handle(ctx, exec, workflowContext, native); terminal {
				return
			}
		}
	}
}

// handle maps one native runtime event onto the normalized stream. It
// reports whether the run is over.
func (d *Driver) handle(ctx context.Context, exec *Execution, workflowContext []byte, native runtime.Event) bool {
	switch native.Kind {
	case runtime.KindExecutorInvoked:
		// An invocation with content is a streamed progress update, a
		// bare one marks the agent starting.
		eventType := events.TypeAgentStarted
		if native.Content != "" {
			eventType = events.TypeAgentMessage
		}
		d.emit(exec, events.ExecutionEvent{
			Type:      eventType,
			AgentName: native.ExecutorName,
			Content:   native.Content,
		})

	case runtime.KindExecutorCompleted:
		d.emit(exec, events.ExecutionEvent{
			Type:      events.TypeAgentCompleted,
			AgentName: native.ExecutorName,
			Content:   native.Content,
		})

	case runtime.KindExecutorFailed:
		err := native.Err
		if err == nil {
			err = errors.New("executor failed")
		}
		d.fail(exec, err, phaseRuntime, native.ExecutorName)
		return true

	case runtime.KindSuperStepCompleted:
		return d.superStep(ctx, exec, workflowContext, native)

	default:
		logger.Warn("ignoring unknown native event kind",
			"execution_id", exec.ID,
			"kind", string(native.Kind))
	}
	return false
}

// superStep persists a checkpoint for the completed super-step, then emits
// the SuperStepCompleted event carrying the native payload. The save happens
// before the event so a crash can never lose an announced super-step.
func (d *Driver) superStep(ctx context.Context, exec *Execution, workflowContext []byte, native runtime.Event) bool {
	event := events.ExecutionEvent{
		Type:     events.TypeSuperStepCompleted,
		Metadata: map[string]string{},
	}

	var stateID string
	if native.Checkpoint != nil {
		stateID = native.Checkpoint.StateID
		event.Checkpoint = native.Checkpoint.State
		event.Metadata[events.MetadataStateID] = stateID
	}

	if d.store != nil && native.Checkpoint != nil {
		data := checkpoint.Data{
			CheckpointID:       checkpoint.NewID(),
			ExecutionID:        exec.ID,
			WorkflowName:       exec.WorkflowName,
			CurrentStateID:     stateID,
			NativeState:        native.Checkpoint.State,
			Input:              exec.Input,
			Context:            workflowContext,
			CreatedAt:          d.now(),
			ExecutionStartedAt: exec.StartedAt,
			Metadata: map[string]string{
				events.MetadataEngineVersion: version.GetVersion(),
			},
		}
		if err := d.store.Save(ctx, data); err != nil {
			d.fail(exec, fmt.Errorf("persisting checkpoint for state %q: %w", stateID, err), phasePersistence, "")
			return true
		}
		event.Metadata[events.MetadataCheckpointID] = data.CheckpointID
		logger.Debug("checkpoint saved",
			"execution_id", exec.ID,
			"checkpoint_id", data.CheckpointID,
			"state_id", stateID)
	}

	d.emit(exec, event)
	return false
}

func (d *Driver) complete(exec *Execution, g *graph.TaskGraph) {
	d.emit(exec, events.ExecutionEvent{
		Type: events.TypeCompleted,
		Metadata: map[string]string{
			events.MetadataPattern: string(g.Pattern),
		},
	})
	exec.setStatus(StatusCompleted)
	logger.Info("execution completed",
		"execution_id", exec.ID,
		"workflow", exec.WorkflowName)
}

// fail emits the terminal Error event and marks the run failed.
// Cancellation is routed to its own terminal shape so callers can branch on
// cancelled vs failed.
func (d *Driver) fail(exec *Execution, err error, phase, agentName string) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		d.cancelled(exec, err)
		return
	}

	logger.Error("execution failed",
		"execution_id", exec.ID,
		"workflow", exec.WorkflowName,
		"phase", phase,
		"error", err)
	d.emit(exec, events.ExecutionEvent{
		Type:      events.TypeError,
		AgentName: agentName,
		Content:   err.Error(),
		Metadata: map[string]string{
			events.MetadataErrorType:  errorType(err),
			events.MetadataErrorPhase: phase,
		},
	})
	exec.setStatus(StatusFailed)
}

// cancelled emits the single terminal Error event tagged as cancellation.
func (d *Driver) cancelled(exec *Execution, err error) {
	logger.Info("execution cancelled",
		"execution_id", exec.ID,
		"workflow", exec.WorkflowName)
	d.emit(exec, events.ExecutionEvent{
		Type:    events.TypeError,
		Content: err.Error(),
		Metadata: map[string]string{
			events.MetadataCancelled: "true",
		},
	})
	exec.setStatus(StatusCancelled)
}

// emit stamps the run identity and timestamp on the event, pushes it onto
// the execution's stream, and publishes it to the bus when one is
// configured.
func (d *Driver) emit(exec *Execution, event events.ExecutionEvent) {
	event.ExecutionID = exec.ID
	event.WorkflowName = exec.WorkflowName
	event.Timestamp = d.now()

	exec.queue.push(event)
	if d.bus != nil {
		d.bus.Publish(event)
	}
}

// encodeContext serializes the definition for checkpoint records so resume
// can rebuild the same graph. Skipped when checkpointing is off.
func (d *Driver) encodeContext(def workflow.Definition) ([]byte, error) {
	if d.store == nil {
		return nil, nil
	}
	blob, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encoding workflow context: %w", err)
	}
	return blob, nil
}

// checkEngineVersion warns when a checkpoint was written by a different
// engine major version. Resume still proceeds: the context blob is
// self-describing and unknown fields are ignored on decode.
func (d *Driver) checkEngineVersion(cp checkpoint.Data) {
	recorded := cp.Metadata[events.MetadataEngineVersion]
	if recorded == "" {
		return
	}
	saved, err := semver.NewVersion(recorded)
	if err != nil {
		logger.Debug("checkpoint carries an unparseable engine version",
			"checkpoint_id", cp.CheckpointID,
			"engine_version", recorded)
		return
	}
	current, err := semver.NewVersion(version.GetVersion())
	if err != nil {
		return
	}
	if saved.Major() != current.Major() {
		logger.Warn("checkpoint was written by a different engine major version",
			"checkpoint_id", cp.CheckpointID,
			"checkpoint_version", recorded,
			"engine_version", version.GetVersion())
	}
}

// errorType names the root cause's Go type for Error event metadata.
func errorType(err error) string {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return fmt.Sprintf("%T", err)
		}
		err = unwrapped
	}
}
