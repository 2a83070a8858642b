// Package workflow defines the declarative workflow definition model and the
// conversion validator that checks a definition before it is turned into an
// executable task graph.
package workflow

// StateType identifies the role a state plays inside a workflow definition.
type StateType string

// StateType values.
const (
	// StateTypeStart marks the entry state. Exactly one per definition.
	StateTypeStart StateType = "start"
	// StateTypeAgent runs a single named executor.
	StateTypeAgent StateType = "agent"
	// StateTypeParallel fans out to several executors and joins before
	// continuing.
	StateTypeParallel StateType = "parallel"
	// StateTypeHumanGate awaits human approval. Not executed by this
	// engine; treated as pass-through during conversion.
	StateTypeHumanGate StateType = "human_gate"
	// StateTypeEscalation hands off to an escalation channel. Not executed
	// by this engine; treated as pass-through during conversion.
	StateTypeEscalation StateType = "escalation"
	// StateTypeTerminal ends the workflow. At least one per definition.
	StateTypeTerminal StateType = "terminal"
)

// Definition is an immutable, declarative description of a workflow as a
// state machine. It carries no behavior; validation and conversion read it
// by value and never modify it.
type Definition struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	States      []StateDefinition `json:"states" yaml:"states"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// StateDefinition describes a single state and its outgoing transition.
type StateDefinition struct {
	ID   string    `json:"id" yaml:"id"`
	Type StateType `json:"type" yaml:"type"`
	// Executor names the single agent bound to an agent state.
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`
	// Executors names the agents a parallel state fans out to.
	Executors []string `json:"executors,omitempty" yaml:"executors,omitempty"`
	// Next is the id of the successor state. Optional only for terminal
	// states.
	Next string `json:"next,omitempty" yaml:"next,omitempty"`
	// Conditions carry conditional-transition rules. They are recorded and
	// surfaced to callers but never evaluated by this engine.
	Conditions []ConditionRule `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	// Trigger is owned by the caller and never executed here.
	Trigger *TriggerDefinition `json:"trigger,omitempty" yaml:"trigger,omitempty"`
}

// ConditionRule is a conditional transition carried as data on a state.
// A policy component owned by the caller may act on it; the conversion
// pipeline flattens all transitions to the default linear path.
type ConditionRule struct {
	Expression string `json:"expression" yaml:"expression"`
	Next       string `json:"next" yaml:"next"`
}

// TriggerDefinition describes an external trigger attached to a state.
type TriggerDefinition struct {
	Kind   string            `json:"kind" yaml:"kind"`
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

// StateByID returns the state with the given id.
func (d Definition) StateByID(id string) (StateDefinition, bool) {
	for _, s := range d.States {
		if s.ID == id {
			return s, true
		}
	}
	return StateDefinition{}, false
}

// StartState returns the first state marked as the start state.
func (d Definition) StartState() (StateDefinition, bool) {
	for _, s := range d.States {
		if s.Type == StateTypeStart {
			return s, true
		}
	}
	return StateDefinition{}, false
}

// IsTerminal reports whether the state ends the workflow.
func (s StateDefinition) IsTerminal() bool {
	return s.Type == StateTypeTerminal
}
