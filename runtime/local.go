package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/iyulab/ironbees/agent"
	"github.com/iyulab/ironbees/graph"
	"github.com/iyulab/ironbees/logger"
)

// eventBuffer sizes the outgoing event channel. Consumers drain into their
// own queue, so a small buffer only smooths over scheduling jitter.
const eventBuffer = 16

// LocalRuntime executes task graphs in-process by invoking each resolved
// agent directly. Agents must implement the agent.Invoker capability;
// parallel nodes fan out onto goroutines and join before the next node.
//
// Output chaining follows the chat-turn convention: a node's non-empty
// output becomes the next node's input, while an empty output leaves the
// current input flowing unchanged.
type LocalRuntime struct {
	parallelLimit int
}

var _ Runtime = (*LocalRuntime)(nil)

// LocalOption configures a LocalRuntime.
type LocalOption func(*LocalRuntime)

// WithParallelLimit caps how many executors of a parallel node run
// concurrently. Default is 0: no cap.
func WithParallelLimit(n int) LocalOption {
	return func(r *LocalRuntime) {
		r.parallelLimit = n
	}
}

// NewLocalRuntime creates an in-process runtime.
func NewLocalRuntime(opts ...LocalOption) *LocalRuntime {
	r := &LocalRuntime{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// position is the local runtime's resume token: the index of the next node
// to run and the input flowing into it.
type position struct {
	NextNode int    `json:"next_node"`
	Input    string `json:"input"`
}

// Run starts a fresh streaming run of the graph.
func (r *LocalRuntime) Run(ctx context.Context, req RunRequest) (<-chan Event, error) {
	if req.Graph == nil || len(req.Graph.Nodes) == 0 {
		return nil, ErrNoGraph
	}

	out := make(chan Event, eventBuffer)
	go r.run(ctx, req, out, 0, req.Input)
	return out, nil
}

// Resume continues a run from a native resume token produced by an earlier
// super-step.
func (r *LocalRuntime) Resume(ctx context.Context, req ResumeRequest) (<-chan Event, error) {
	if req.Graph == nil || len(req.Graph.Nodes) == 0 {
		return nil, ErrNoGraph
	}

	var pos position
	if len(req.State) > 0 {
		if err := json.Unmarshal(req.State, &pos); err != nil {
			return nil, fmt.Errorf("decoding resume state: %w", err)
		}
	}
	if pos.NextNode < 0 || pos.NextNode > len(req.Graph.Nodes) {
		return nil, fmt.Errorf("resume state references node %d of a %d-node graph", pos.NextNode, len(req.Graph.Nodes))
	}

	input := pos.Input
	if input == "" {
		input = req.Input
	}

	out := make(chan Event, eventBuffer)
	go r.run(ctx, req.RunRequest, out, pos.NextNode, input)
	return out, nil
}

// run drives the graph node by node, emitting native events. The output
// channel is always closed on exit.
func (r *LocalRuntime) run(ctx context.Context, req RunRequest, out chan<- Event, startNode int, input string) {
	defer close(out)

	current := input
	for i := startNode; i < len(req.Graph.Nodes); i++ {
		node := req.Graph.Nodes[i]
		logger.Debug("running task graph node",
			"execution_id", req.ExecutionID,
			"workflow", req.Graph.WorkflowName,
			"state_id", node.StateID,
			"parallel", node.Parallel)

		var (
			output     string
			failedName string
			err        error
		)
		if node.Parallel {
			output, failedName, err = r.runParallel(ctx, node, current, out)
		} else {
			output, failedName, err = r.runSingle(ctx, node, current, out)
		}
		if err != nil {
			send(ctx, out, Event{Kind: KindExecutorFailed, ExecutorName: failedName, Err: err})
			return
		}
		if output != "" {
			current = output
		}

		if req.Checkpointing {
			state, err := json.Marshal(position{NextNode: i + 1, Input: current})
			if err != nil {
				send(ctx, out, Event{Kind: KindExecutorFailed, ExecutorName: failedName, Err: fmt.Errorf("encoding resume state: %w", err)})
				return
			}
			ok := send(ctx, out, Event{
				Kind:       KindSuperStepCompleted,
				Checkpoint: &Checkpoint{StateID: node.StateID, State: state},
			})
			if !ok {
				return
			}
		}
	}
}

// runSingle invokes the node's one agent.
func (r *LocalRuntime) runSingle(ctx context.Context, node graph.Node, input string, out chan<- Event) (string, string, error) {
	a := node.Agents[0]
	if !send(ctx, out, Event{Kind: KindExecutorInvoked, ExecutorName: a.Name()}) {
		return "", a.Name(), ctx.Err()
	}

	output, err := invoke(ctx, a, input)
	if err != nil {
		return "", a.Name(), err
	}

	if !send(ctx, out, Event{Kind: KindExecutorCompleted, ExecutorName: a.Name(), Content: output}) {
		return "", a.Name(), ctx.Err()
	}
	return output, "", nil
}

// runParallel fans the node's agents out onto goroutines and joins their
// outputs in declaration order. Invoked and completed events are emitted in
// that same order, so consumers observe a deterministic sequence.
func (r *LocalRuntime) runParallel(ctx context.Context, node graph.Node, input string, out chan<- Event) (string, string, error) {
	for _, a := range node.Agents {
		if !send(ctx, out, Event{Kind: KindExecutorInvoked, ExecutorName: a.Name()}) {
			return "", a.Name(), ctx.Err()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.parallelLimit > 0 {
		g.SetLimit(r.parallelLimit)
	}

	var (
		mu         sync.Mutex
		firstErr   error
		failedName string
	)
	record := func(name string, err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			failedName = name
		}
		mu.Unlock()
	}

	results := make([]string, len(node.Agents))
	for i, a := range node.Agents {
		g.Go(func() error {
			output, err := invoke(gctx, a, input)
			if err != nil {
				record(a.Name(), err)
				return err
			}
			results[i] = output
			return nil
		})
	}
	_ = g.Wait()
	if firstErr != nil {
		return "", failedName, firstErr
	}

	for i, a := range node.Agents {
		if !send(ctx, out, Event{Kind: KindExecutorCompleted, ExecutorName: a.Name(), Content: results[i]}) {
			return "", a.Name(), ctx.Err()
		}
	}

	outputs := make([]string, 0, len(results))
	for _, result := range results {
		if result != "" {
			outputs = append(outputs, result)
		}
	}
	return strings.Join(outputs, "\n"), "", nil
}

// invoke runs one agent through its Invoker capability.
func invoke(ctx context.Context, a agent.Agent, input string) (string, error) {
	inv, ok := a.(agent.Invoker)
	if !ok {
		return "", fmt.Errorf("executor %q is not invokable in the local runtime", a.Name())
	}
	output, err := inv.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("invoking executor %q: %w", a.Name(), err)
	}
	return output, nil
}

// send delivers an event unless the context is cancelled first.
func send(ctx context.Context, out chan<- Event, event Event) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
