// Package graph classifies validated workflow definitions by execution
// pattern and builds the executable task graph the runtime consumes.
//
// Classification is purely structural: it looks only at which state types
// appear in the definition, never at runtime data. Building resolves every
// named executor through the injected resolver and assembles the resolved
// agents into ordered nodes.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/iyulab/ironbees/agent"
	"github.com/iyulab/ironbees/logger"
	"github.com/iyulab/ironbees/workflow"
)

// ErrNoAgents is returned when a build completes without resolving a single
// executor, for example a definition containing only start and terminal
// states. It is a conversion failure, distinct from validation errors.
var ErrNoAgents = errors.New("no agents found in workflow definition")

// Pattern classifies the execution shape of a workflow definition.
type Pattern string

// Pattern values.
const (
	// PatternSequential chains agent states one after another.
	PatternSequential Pattern = "sequential"
	// PatternParallel fans a single parallel state out to all of its
	// executors and joins before completing.
	PatternParallel Pattern = "parallel"
	// PatternMixed contains both agent and parallel states. Parallel states
	// are flattened into the sequential chain; see Build.
	PatternMixed Pattern = "mixed"
)

// Classify reports the execution pattern of a definition. A definition with
// neither agent nor parallel states classifies as sequential; building such
// a graph fails with ErrNoAgents.
func Classify(def workflow.Definition) Pattern {
	var hasAgent, hasParallel bool
	for _, state := range def.States {
		switch state.Type {
		case workflow.StateTypeAgent:
			hasAgent = true
		case workflow.StateTypeParallel:
			hasParallel = true
		}
	}

	switch {
	case hasParallel && !hasAgent:
		return PatternParallel
	case hasAgent && hasParallel:
		return PatternMixed
	default:
		return PatternSequential
	}
}

// Node is one super-step of a task graph: the agents that run before the
// next checkpoint boundary. A parallel node's agents run concurrently and
// join; otherwise the node holds exactly one agent.
type Node struct {
	// StateID is the id of the definition state this node was built from.
	StateID string
	// Agents are the resolved executors for this node, in declaration order.
	Agents []agent.Agent
	// Parallel marks the node for concurrent fan-out/fan-in execution.
	Parallel bool
}

// TaskGraph is a runnable execution plan: an ordered list of nodes derived
// from a validated workflow definition.
type TaskGraph struct {
	WorkflowName string
	Pattern      Pattern
	Nodes        []Node
}

// AgentCount returns the total number of resolved agents across all nodes.
func (g *TaskGraph) AgentCount() int {
	count := 0
	for _, node := range g.Nodes {
		count += len(node.Agents)
	}
	return count
}

// AgentNames returns every resolved agent name in execution order.
func (g *TaskGraph) AgentNames() []string {
	names := make([]string, 0, g.AgentCount())
	for _, node := range g.Nodes {
		for _, a := range node.Agents {
			names = append(names, a.Name())
		}
	}
	return names
}

// Builder turns workflow definitions into task graphs, resolving executor
// names through the injected resolver.
type Builder struct {
	resolver agent.Resolver
}

// NewBuilder creates a builder that resolves executors through resolver.
func NewBuilder(resolver agent.Resolver) *Builder {
	return &Builder{resolver: resolver}
}

// Build classifies def and assembles the matching task graph. Resolver
// failures propagate wrapped; a build that resolves no executor at all
// returns ErrNoAgents.
func (b *Builder) Build(ctx context.Context, def workflow.Definition) (*TaskGraph, error) {
	pattern := Classify(def)

	var (
		nodes []Node
		err   error
	)
	switch pattern {
	case PatternParallel:
		nodes, err = b.buildParallel(ctx, def)
	case PatternMixed:
		nodes, err = b.buildMixed(ctx, def)
	default:
		nodes, err = b.buildSequential(ctx, def)
	}
	if err != nil {
		return nil, err
	}

	graph := &TaskGraph{WorkflowName: def.Name, Pattern: pattern, Nodes: nodes}
	if graph.AgentCount() == 0 {
		return nil, ErrNoAgents
	}
	return graph, nil
}

// buildSequential collects agent states in traversal order and chains one
// single-agent node per state.
func (b *Builder) buildSequential(ctx context.Context, def workflow.Definition) ([]Node, error) {
	var nodes []Node
	for _, state := range orderedStates(def) {
		if state.Type != workflow.StateTypeAgent {
			continue
		}
		resolved, err := b.resolve(ctx, state.Executor, state.ID)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, Node{StateID: state.ID, Agents: []agent.Agent{resolved}})
	}
	return nodes, nil
}

// buildParallel resolves every executor of the parallel state into a single
// fan-out/fan-in node. Classification guarantees at most the degenerate case
// of several parallel states; the first in definition order wins.
func (b *Builder) buildParallel(ctx context.Context, def workflow.Definition) ([]Node, error) {
	for _, state := range def.States {
		if state.Type != workflow.StateTypeParallel {
			continue
		}
		agents := make([]agent.Agent, 0, len(state.Executors))
		for _, name := range state.Executors {
			resolved, err := b.resolve(ctx, name, state.ID)
			if err != nil {
				return nil, err
			}
			agents = append(agents, resolved)
		}
		if len(agents) == 0 {
			return nil, nil
		}
		return []Node{{StateID: state.ID, Agents: agents, Parallel: true}}, nil
	}
	return nil, nil
}

// buildMixed traverses all states in order. Agent states contribute one
// node each; a parallel state's executors are flattened into consecutive
// single-agent nodes, losing true concurrency. Start and terminal states
// contribute nothing; other state types are skipped.
func (b *Builder) buildMixed(ctx context.Context, def workflow.Definition) ([]Node, error) {
	var nodes []Node
	for _, state := range orderedStates(def) {
		switch state.Type {
		case workflow.StateTypeAgent:
			resolved, err := b.resolve(ctx, state.Executor, state.ID)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, Node{StateID: state.ID, Agents: []agent.Agent{resolved}})

		case workflow.StateTypeParallel:
			for _, name := range state.Executors {
				resolved, err := b.resolve(ctx, name, state.ID)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, Node{StateID: state.ID, Agents: []agent.Agent{resolved}})
			}

		case workflow.StateTypeStart, workflow.StateTypeTerminal:
			// Contribute nothing.

		default:
			logger.Warn("state type is not executable, skipping",
				"workflow", def.Name,
				"state_id", state.ID,
				"state_type", string(state.Type))
		}
	}
	return nodes, nil
}

func (b *Builder) resolve(ctx context.Context, name, stateID string) (agent.Agent, error) {
	resolved, err := b.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolving executor %q for state %q: %w", name, stateID, err)
	}
	return resolved, nil
}

// orderedStates walks the definition from its start state, following next
// one hop at a time. A visited set terminates the walk on cycles; it also
// stops at a terminal state, a missing next, or a dangling reference.
func orderedStates(def workflow.Definition) []workflow.StateDefinition {
	start, ok := def.StartState()
	if !ok {
		return nil
	}

	visited := make(map[string]bool)
	var ordered []workflow.StateDefinition

	current := start
	for {
		if visited[current.ID] {
			break
		}
		visited[current.ID] = true
		ordered = append(ordered, current)

		if current.IsTerminal() || current.Next == "" {
			break
		}
		next, ok := def.StateByID(current.Next)
		if !ok {
			break
		}
		current = next
	}
	return ordered
}
