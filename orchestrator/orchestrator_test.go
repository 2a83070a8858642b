package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyulab/ironbees/agent"
	"github.com/iyulab/ironbees/checkpoint"
	"github.com/iyulab/ironbees/events"
	"github.com/iyulab/ironbees/execution"
	"github.com/iyulab/ironbees/runtime"
	"github.com/iyulab/ironbees/workflow"
)

func echoAgent(name string) *agent.FuncAgent {
	return agent.NewFuncAgent(name, func(_ context.Context, input string) (string, error) {
		return name + ": " + input, nil
	})
}

func testResolver(agents ...agent.Agent) *agent.Registry {
	reg := agent.NewRegistry()
	for _, a := range agents {
		reg.Register(a)
	}
	return reg
}

func sequentialDefinition() workflow.Definition {
	return workflow.Definition{
		Name: "triage",
		States: []workflow.StateDefinition{
			{ID: "start", Type: workflow.StateTypeStart, Next: "plan"},
			{ID: "plan", Type: workflow.StateTypeAgent, Executor: "planner", Next: "code"},
			{ID: "code", Type: workflow.StateTypeAgent, Executor: "coder", Next: "end"},
			{ID: "end", Type: workflow.StateTypeTerminal},
		},
	}
}

func newTestOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(testResolver(echoAgent("planner"), echoAgent("coder")), runtime.NewLocalRuntime(), opts...)
	require.NoError(t, err)
	return o
}

func drainRecords(t *testing.T, ch <-chan RunState) []RunState {
	t.Helper()
	var records []RunState
	timeout := time.After(5 * time.Second)
	for {
		select {
		case record, ok := <-ch:
			if !ok {
				return records
			}
			records = append(records, record)
		case <-timeout:
			t.Fatal("timed out draining run state records")
		}
	}
}

func TestNewPassesDriverErrors(t *testing.T) {
	_, err := New(nil, runtime.NewLocalRuntime())
	assert.ErrorIs(t, err, execution.ErrNilResolver)

	_, err = New(testResolver(), nil)
	assert.ErrorIs(t, err, execution.ErrNilRuntime)
}

func TestOrchestratorRunSequential(t *testing.T) {
	o := newTestOrchestrator(t)

	records := drainRecords(t, o.Run(context.Background(), sequentialDefinition(), "build a widget"))
	require.Len(t, records, 6)

	wantTypes := []events.Type{
		events.TypeStarted,
		events.TypeAgentStarted,
		events.TypeAgentCompleted,
		events.TypeAgentStarted,
		events.TypeAgentCompleted,
		events.TypeCompleted,
	}
	for i, record := range records {
		assert.Equal(t, wantTypes[i], record.Event.Type)
	}

	// Running until the terminal event, then Completed.
	for _, record := range records[:5] {
		assert.Equal(t, RunStatusRunning, record.Status)
	}
	final := records[5]
	assert.Equal(t, RunStatusCompleted, final.Status)

	// Identity and continuity on every record.
	for _, record := range records {
		assert.Equal(t, records[0].ExecutionID, record.ExecutionID)
		assert.Equal(t, "triage", record.WorkflowName)
		assert.Equal(t, "build a widget", record.Input)
		assert.True(t, record.StartedAt.Equal(records[0].StartedAt))
		assert.False(t, record.Timestamp.IsZero())
	}
}

func TestOrchestratorValidationFailure(t *testing.T) {
	o := newTestOrchestrator(t)
	def := workflow.Definition{
		Name: "broken",
		States: []workflow.StateDefinition{
			{ID: "start", Type: workflow.StateTypeStart, Next: "plan"},
			{ID: "plan", Type: workflow.StateTypeAgent, Next: "end"},
			{ID: "end", Type: workflow.StateTypeTerminal},
		},
	}

	records := drainRecords(t, o.Run(context.Background(), def, "x"))
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, RunStatusFailed, record.Status)
	assert.NotEmpty(t, record.ExecutionID)
	assert.Equal(t, "broken", record.WorkflowName)
	assert.Equal(t, events.TypeError, record.Event.Type)
	assert.Equal(t, phaseValidation, record.Event.Metadata[events.MetadataErrorPhase])
	assert.Contains(t, record.Event.Content, workflow.CodeAgentMissingExecutor)
}

func TestOrchestratorRunFailureStatus(t *testing.T) {
	failing := agent.NewFuncAgent("coder", func(context.Context, string) (string, error) {
		return "", errors.New("model unavailable")
	})
	o, err := New(testResolver(echoAgent("planner"), failing), runtime.NewLocalRuntime())
	require.NoError(t, err)

	records := drainRecords(t, o.Run(context.Background(), sequentialDefinition(), "x"))
	require.NotEmpty(t, records)

	final := records[len(records)-1]
	assert.Equal(t, RunStatusFailed, final.Status)
	assert.Equal(t, events.TypeError, final.Event.Type)
	assert.False(t, final.Event.IsCancellation())
}

func TestOrchestratorResume(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	o := newTestOrchestrator(t, WithCheckpointStore(store))
	ctx := context.Background()

	records := drainRecords(t, o.Run(ctx, sequentialDefinition(), "build a widget"))
	executionID := records[0].ExecutionID
	startedAt := records[0].StartedAt

	saved, err := store.GetAll(ctx, executionID)
	require.NoError(t, err)
	require.Len(t, saved, 2)

	// Resume from the checkpoint after the first agent.
	ch, err := o.Resume(ctx, saved[0].CheckpointID)
	require.NoError(t, err)
	resumed := drainRecords(t, ch)

	wantTypes := []events.Type{
		events.TypeAgentStarted,
		events.TypeAgentCompleted,
		events.TypeSuperStepCompleted,
		events.TypeCompleted,
	}
	require.Len(t, resumed, len(wantTypes))
	for i, record := range resumed {
		assert.Equal(t, wantTypes[i], record.Event.Type)
		assert.Equal(t, executionID, record.ExecutionID)
		assert.Equal(t, "build a widget", record.Input)
		assert.True(t, record.StartedAt.Equal(startedAt))
	}
	assert.Equal(t, RunStatusCompleted, resumed[len(resumed)-1].Status)
}

func TestOrchestratorResumeLatest(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	o := newTestOrchestrator(t, WithCheckpointStore(store))
	ctx := context.Background()

	records := drainRecords(t, o.Run(ctx, sequentialDefinition(), "build a widget"))
	executionID := records[0].ExecutionID

	// The latest checkpoint sits after the final agent, so resuming from
	// it only finishes the run.
	ch, err := o.ResumeLatest(ctx, executionID)
	require.NoError(t, err)
	resumed := drainRecords(t, ch)

	require.Len(t, resumed, 1)
	assert.Equal(t, events.TypeCompleted, resumed[0].Event.Type)
	assert.Equal(t, RunStatusCompleted, resumed[0].Status)
	assert.Equal(t, executionID, resumed[0].ExecutionID)
}

func TestOrchestratorResumeRequiresStore(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Resume(context.Background(), "cp-1")
	assert.ErrorIs(t, err, ErrNoCheckpointStore)

	_, err = o.ResumeLatest(context.Background(), "exec-1")
	assert.ErrorIs(t, err, ErrNoCheckpointStore)
}

func TestOrchestratorResumeNotFound(t *testing.T) {
	o := newTestOrchestrator(t, WithCheckpointStore(checkpoint.NewMemoryStore()))

	_, err := o.Resume(context.Background(), "cp-missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestOrchestratorConcurrencyCap(t *testing.T) {
	release := make(chan struct{})
	blocker := agent.NewFuncAgent("blocker", func(ctx context.Context, _ string) (string, error) {
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	o, err := New(
		testResolver(blocker, echoAgent("planner"), echoAgent("coder")),
		runtime.NewLocalRuntime(),
		WithMaxConcurrentRuns(1),
	)
	require.NoError(t, err)

	slow := workflow.Definition{
		Name: "slow",
		States: []workflow.StateDefinition{
			{ID: "start", Type: workflow.StateTypeStart, Next: "work"},
			{ID: "work", Type: workflow.StateTypeAgent, Executor: "blocker", Next: "end"},
			{ID: "end", Type: workflow.StateTypeTerminal},
		},
	}

	ctx := context.Background()
	first := o.Run(ctx, slow, "x")

	// Wait for the first run's Started record, which means it holds the
	// only slot.
	select {
	case record := <-first:
		require.Equal(t, events.TypeStarted, record.Event.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started")
	}

	second := o.Run(ctx, sequentialDefinition(), "y")
	select {
	case record := <-second:
		t.Fatalf("second run produced %s before the first finished", record.Event.Type)
	case <-time.After(150 * time.Millisecond):
	}

	close(release)
	firstRecords := drainRecords(t, first)
	secondRecords := drainRecords(t, second)

	assert.Equal(t, RunStatusCompleted, firstRecords[len(firstRecords)-1].Status)
	assert.Equal(t, RunStatusCompleted, secondRecords[len(secondRecords)-1].Status)
}
