package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for execution-scoped logging fields. Values stored under
// these keys are extracted by ContextHandler and attached to every record
// logged through the context.
const (
	// ContextKeyExecutionID identifies one logical workflow run, including
	// its resumes.
	ContextKeyExecutionID contextKey = "execution_id"

	// ContextKeyWorkflow identifies the workflow definition being executed.
	ContextKeyWorkflow contextKey = "workflow"

	// ContextKeyStateID identifies the workflow state currently in flight.
	ContextKeyStateID contextKey = "state_id"

	// ContextKeyAgent identifies the agent an operation concerns.
	ContextKeyAgent contextKey = "agent"

	// ContextKeyCheckpointID identifies the checkpoint record an operation
	// concerns.
	ContextKeyCheckpointID contextKey = "checkpoint_id"
)

// allContextKeys lists the keys ContextHandler extracts.
var allContextKeys = []contextKey{
	ContextKeyExecutionID,
	ContextKeyWorkflow,
	ContextKeyStateID,
	ContextKeyAgent,
	ContextKeyCheckpointID,
}

// WithExecutionID returns a new context carrying the execution id.
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, ContextKeyExecutionID, executionID)
}

// WithWorkflow returns a new context carrying the workflow name.
func WithWorkflow(ctx context.Context, workflow string) context.Context {
	return context.WithValue(ctx, ContextKeyWorkflow, workflow)
}

// WithStateID returns a new context carrying the current state id.
func WithStateID(ctx context.Context, stateID string) context.Context {
	return context.WithValue(ctx, ContextKeyStateID, stateID)
}

// WithAgent returns a new context carrying the agent name.
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, ContextKeyAgent, agent)
}

// WithCheckpointID returns a new context carrying the checkpoint id.
func WithCheckpointID(ctx context.Context, checkpointID string) context.Context {
	return context.WithValue(ctx, ContextKeyCheckpointID, checkpointID)
}

// WithRun returns a new context carrying the identifying fields of one run.
// Empty values are skipped.
func WithRun(ctx context.Context, executionID, workflow string) context.Context {
	if executionID != "" {
		ctx = WithExecutionID(ctx, executionID)
	}
	if workflow != "" {
		ctx = WithWorkflow(ctx, workflow)
	}
	return ctx
}
