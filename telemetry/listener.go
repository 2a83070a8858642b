package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iyulab/ironbees/events"
)

// spanEntry tracks an in-flight span and its context.
type spanEntry struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // needed to parent child spans
}

// pendingEnd buffers an agent completion that arrived before the
// corresponding start. The event bus dispatches each Publish() in a separate
// goroutine, so completion events can race ahead of start events.
type pendingEnd struct {
	errMsg string // empty means success
	attrs  []attribute.KeyValue
}

// OTelEventListener converts execution events into OTel spans in real time:
// one root span per execution and one child span per agent task. It
// implements the events.Listener function signature via its OnEvent method
// and should be registered with SubscribeAll. It is safe for concurrent use
// and tolerates out-of-order event delivery.
type OTelEventListener struct {
	tracer trace.Tracer

	mu          sync.Mutex
	executions  map[string]*spanEntry  // executionID → root span + ctx
	agents      map[string]*spanEntry  // executionID+"/"+agentName → span + ctx
	pendingEnds map[string]*pendingEnd // buffered completions for out-of-order delivery
}

// NewOTelEventListener creates a listener that creates OTel spans from
// execution events.
func NewOTelEventListener(tracer trace.Tracer) *OTelEventListener {
	return &OTelEventListener{
		tracer:      tracer,
		executions:  make(map[string]*spanEntry),
		agents:      make(map[string]*spanEntry),
		pendingEnds: make(map[string]*pendingEnd),
	}
}

// OnEvent processes an execution event, creating or completing spans.
func (l *OTelEventListener) OnEvent(evt events.ExecutionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch evt.Type {
	case events.TypeStarted:
		l.startExecution(evt)
	case events.TypeAgentStarted, events.TypeAgentMessage:
		l.agentProgress(evt)
	case events.TypeAgentCompleted:
		l.completeAgent(evt)
	case events.TypeSuperStepCompleted:
		l.superStep(evt)
	case events.TypeCompleted:
		l.endExecution(evt, codes.Ok, "")
	case events.TypeError:
		l.failExecution(evt)
	}
}

// rootFor returns the root span entry for an execution, creating one if the
// run has no Started event (resumed runs start mid-stream).
func (l *OTelEventListener) rootFor(evt events.ExecutionEvent) *spanEntry {
	if entry, ok := l.executions[evt.ExecutionID]; ok {
		return entry
	}
	ctx, span := l.tracer.Start(context.Background(), "ironbees.execution",
		trace.WithTimestamp(evt.Timestamp),
		trace.WithAttributes(
			attribute.String("execution.id", evt.ExecutionID),
			attribute.String("workflow.name", evt.WorkflowName),
			attribute.Bool("execution.resumed", evt.Type != events.TypeStarted),
		))
	entry := &spanEntry{span: span, ctx: ctx}
	l.executions[evt.ExecutionID] = entry
	return entry
}

func (l *OTelEventListener) startExecution(evt events.ExecutionEvent) {
	root := l.rootFor(evt)
	if count, ok := evt.Metadata[events.MetadataStateCount]; ok {
		root.span.SetAttributes(attribute.String("workflow.state_count", count))
	}
	if v, ok := evt.Metadata[events.MetadataEngineVersion]; ok {
		root.span.SetAttributes(attribute.String("engine.version", v))
	}
}

func (l *OTelEventListener) agentProgress(evt events.ExecutionEvent) {
	key := evt.ExecutionID + "/" + evt.AgentName
	entry, ok := l.agents[key]
	if !ok {
		root := l.rootFor(evt)
		ctx, span := l.tracer.Start(root.ctx, "ironbees.agent",
			trace.WithTimestamp(evt.Timestamp),
			trace.WithAttributes(
				attribute.String("execution.id", evt.ExecutionID),
				attribute.String("agent.name", evt.AgentName),
			))
		entry = &spanEntry{span: span, ctx: ctx}
		l.agents[key] = entry

		if pending, buffered := l.pendingEnds[key]; buffered {
			delete(l.pendingEnds, key)
			l.endAgent(key, pending.errMsg, pending.attrs)
			return
		}
	}
	if evt.Type == events.TypeAgentMessage {
		entry.span.AddEvent("agent.message",
			trace.WithTimestamp(evt.Timestamp),
			trace.WithAttributes(attribute.Int("content.length", len(evt.Content))))
	}
}

func (l *OTelEventListener) completeAgent(evt events.ExecutionEvent) {
	key := evt.ExecutionID + "/" + evt.AgentName
	attrs := []attribute.KeyValue{
		attribute.Int("output.length", len(evt.Content)),
	}
	if _, ok := l.agents[key]; !ok {
		l.pendingEnds[key] = &pendingEnd{attrs: attrs}
		return
	}
	l.endAgent(key, "", attrs)
}

func (l *OTelEventListener) endAgent(key, errMsg string, attrs []attribute.KeyValue) {
	entry := l.agents[key]
	delete(l.agents, key)
	entry.span.SetAttributes(attrs...)
	if errMsg != "" {
		entry.span.SetStatus(codes.Error, errMsg)
	} else {
		entry.span.SetStatus(codes.Ok, "")
	}
	entry.span.End()
}

func (l *OTelEventListener) superStep(evt events.ExecutionEvent) {
	root := l.rootFor(evt)
	attrs := []attribute.KeyValue{}
	if stateID, ok := evt.Metadata[events.MetadataStateID]; ok {
		attrs = append(attrs, attribute.String("state.id", stateID))
	}
	if cpID, ok := evt.Metadata[events.MetadataCheckpointID]; ok {
		attrs = append(attrs, attribute.String("checkpoint.id", cpID))
	}
	root.span.AddEvent("superstep.completed",
		trace.WithTimestamp(evt.Timestamp),
		trace.WithAttributes(attrs...))
}

func (l *OTelEventListener) failExecution(evt events.ExecutionEvent) {
	// An Error event on an agent also closes that agent's span.
	if evt.AgentName != "" {
		key := evt.ExecutionID + "/" + evt.AgentName
		if _, ok := l.agents[key]; ok {
			l.endAgent(key, evt.Content, nil)
		}
	}
	if evt.IsCancellation() {
		l.endExecution(evt, codes.Error, "cancelled")
		return
	}
	l.endExecution(evt, codes.Error, evt.Content)
}

func (l *OTelEventListener) endExecution(evt events.ExecutionEvent, code codes.Code, desc string) {
	entry, ok := l.executions[evt.ExecutionID]
	if !ok {
		return
	}
	delete(l.executions, evt.ExecutionID)

	// Close any agent spans the stream never completed.
	for key, agentEntry := range l.agents {
		if len(key) > len(evt.ExecutionID) && key[:len(evt.ExecutionID)+1] == evt.ExecutionID+"/" {
			delete(l.agents, key)
			agentEntry.span.SetStatus(codes.Error, "execution ended before agent completed")
			agentEntry.span.End(trace.WithTimestamp(evt.Timestamp))
		}
	}

	if evt.IsCancellation() {
		entry.span.SetAttributes(attribute.Bool("execution.cancelled", true))
	}
	entry.span.SetStatus(code, desc)
	entry.span.End(trace.WithTimestamp(evt.Timestamp))
}
