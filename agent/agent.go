// Package agent defines the executor abstraction bound to workflow states
// and the resolver used to look executors up by name during graph building.
//
// Agents are opaque to the conversion engine: it resolves them, places them
// into task graph nodes, and hands them to the execution runtime. Only
// runtimes that execute agents in-process need the optional Invoker
// capability.
package agent

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrAgentNotFound is returned by resolvers when no agent carries the
// requested name.
var ErrAgentNotFound = errors.New("agent not found")

// Agent is a named, resolvable unit of work bound to an agent or parallel
// state.
type Agent interface {
	Name() string
}

// Invoker is an optional capability interface. Runtimes that execute agents
// in-process detect it with a type assertion and call Invoke; agents without
// it are treated as externally executed.
type Invoker interface {
	Invoke(ctx context.Context, input string) (string, error)
}

// Resolver looks up an agent by the executor name a state declares.
// Implementations may hit remote registries; the context carries
// cancellation through every resolution.
type Resolver interface {
	Resolve(ctx context.Context, name string) (Agent, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, name string) (Agent, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, name string) (Agent, error) {
	return f(ctx, name)
}

// Registry is an in-memory, name-keyed agent collection that implements
// Resolver. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

var _ Resolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds or replaces an agent under its name.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name()] = a
}

// Resolve implements Resolver.
func (r *Registry) Resolve(ctx context.Context, name string) (Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return a, nil
}

// Names returns the registered agent names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FuncAgent is an invokable agent backed by a function. It is the simplest
// way to stand up agents for local runtimes and tests.
type FuncAgent struct {
	name string
	fn   func(ctx context.Context, input string) (string, error)
}

var (
	_ Agent   = (*FuncAgent)(nil)
	_ Invoker = (*FuncAgent)(nil)
)

// NewFuncAgent creates an agent that runs fn when invoked.
func NewFuncAgent(name string, fn func(ctx context.Context, input string) (string, error)) *FuncAgent {
	return &FuncAgent{name: name, fn: fn}
}

// Name implements Agent.
func (a *FuncAgent) Name() string { return a.name }

// Invoke implements Invoker.
func (a *FuncAgent) Invoke(ctx context.Context, input string) (string, error) {
	if a.fn == nil {
		return "", nil
	}
	return a.fn(ctx, input)
}
