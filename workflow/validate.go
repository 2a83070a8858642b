package workflow

import (
	"fmt"
	"strings"
)

// Validation issue codes. Errors block conversion; warnings never do.
const (
	CodeMissingName              = "MISSING_NAME"
	CodeNoStates                 = "NO_STATES"
	CodeNoStartState             = "NO_START_STATE"
	CodeMultipleStartStates      = "MULTIPLE_START_STATES"
	CodeNoTerminalState          = "NO_TERMINAL_STATE"
	CodeInvalidNextReference     = "INVALID_NEXT_REFERENCE"
	CodeAgentMissingExecutor     = "AGENT_MISSING_EXECUTOR"
	CodeParallelMissingExecutors = "PARALLEL_MISSING_EXECUTORS"
	CodeConditionsNotEvaluated   = "CONDITIONS_NOT_EVALUATED"
	CodeTriggerNotEvaluated      = "TRIGGER_NOT_EVALUATED"
)

// Issue is a single validation finding. StateID is set when the finding is
// attributable to one state.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	StateID string `json:"state_id,omitempty"`
}

// String renders the issue for logs and error surfaces.
func (i Issue) String() string {
	if i.StateID != "" {
		return fmt.Sprintf("%s [%s]: %s", i.Code, i.StateID, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// ConversionValidation is the outcome of checking a definition for
// convertibility. Errors block conversion, warnings and unsupported-feature
// notices do not.
type ConversionValidation struct {
	Errors              []Issue  `json:"errors"`
	Warnings            []Issue  `json:"warnings"`
	UnsupportedFeatures []string `json:"unsupported_features"`
}

// IsValid reports whether the definition can be converted.
func (v ConversionValidation) IsValid() bool {
	return len(v.Errors) == 0
}

// ErrorSummary joins all error messages into a single line for logs and
// terminal failure records.
func (v ConversionValidation) ErrorSummary() string {
	msgs := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}

// ValidateForConversion checks a definition for structural soundness before
// an execution graph is built. All rules are evaluated in one call so every
// problem is surfaced at once; the state-shape rules presuppose a non-empty
// state list, so an empty definition reports only NO_STATES.
func ValidateForConversion(def Definition) ConversionValidation {
	v := ConversionValidation{}

	validateName(def, &v)
	if len(def.States) == 0 {
		v.Errors = append(v.Errors, Issue{
			Code:    CodeNoStates,
			Message: "workflow has no states",
		})
		return v
	}
	validateStartState(def, &v)
	validateTerminalState(def, &v)
	validateNextReferences(def, &v)
	validateExecutors(def, &v)
	collectWarnings(def, &v)
	collectUnsupportedFeatures(def, &v)

	return v
}

// validateName checks that the workflow carries a usable name.
func validateName(def Definition, v *ConversionValidation) {
	if strings.TrimSpace(def.Name) == "" {
		v.Errors = append(v.Errors, Issue{
			Code:    CodeMissingName,
			Message: "workflow name is missing or blank",
		})
	}
}

// validateStartState checks that exactly one start state exists.
func validateStartState(def Definition, v *ConversionValidation) {
	var starts []string
	for _, s := range def.States {
		if s.Type == StateTypeStart {
			starts = append(starts, s.ID)
		}
	}
	switch {
	case len(starts) == 0:
		v.Errors = append(v.Errors, Issue{
			Code:    CodeNoStartState,
			Message: "workflow has no start state",
		})
	case len(starts) > 1:
		v.Errors = append(v.Errors, Issue{
			Code:    CodeMultipleStartStates,
			Message: fmt.Sprintf("workflow has %d start states (%s), expected exactly one", len(starts), strings.Join(starts, ", ")),
		})
	}
}

// validateTerminalState checks that at least one terminal state exists.
func validateTerminalState(def Definition, v *ConversionValidation) {
	for _, s := range def.States {
		if s.IsTerminal() {
			return
		}
	}
	v.Errors = append(v.Errors, Issue{
		Code:    CodeNoTerminalState,
		Message: "workflow has no terminal state",
	})
}

// validateNextReferences checks that every non-empty next points at an
// existing state id.
func validateNextReferences(def Definition, v *ConversionValidation) {
	ids := make(map[string]bool, len(def.States))
	for _, s := range def.States {
		ids[s.ID] = true
	}
	for _, s := range def.States {
		if s.Next != "" && !ids[s.Next] {
			v.Errors = append(v.Errors, Issue{
				Code:    CodeInvalidNextReference,
				Message: fmt.Sprintf("state %q transitions to unknown state %q", s.ID, s.Next),
				StateID: s.ID,
			})
		}
	}
}

// validateExecutors checks that agent states name an executor and parallel
// states name at least one.
func validateExecutors(def Definition, v *ConversionValidation) {
	for _, s := range def.States {
		switch s.Type {
		case StateTypeAgent:
			if strings.TrimSpace(s.Executor) == "" {
				v.Errors = append(v.Errors, Issue{
					Code:    CodeAgentMissingExecutor,
					Message: fmt.Sprintf("agent state %q has no executor", s.ID),
					StateID: s.ID,
				})
			}
		case StateTypeParallel:
			if len(s.Executors) == 0 {
				v.Errors = append(v.Errors, Issue{
					Code:    CodeParallelMissingExecutors,
					Message: fmt.Sprintf("parallel state %q has no executors", s.ID),
					StateID: s.ID,
				})
			}
		}
	}
}

// collectWarnings flags state features the engine carries as data but never
// evaluates.
func collectWarnings(def Definition, v *ConversionValidation) {
	for _, s := range def.States {
		if len(s.Conditions) > 0 {
			v.Warnings = append(v.Warnings, Issue{
				Code:    CodeConditionsNotEvaluated,
				Message: fmt.Sprintf("state %q carries %d condition(s); conditional transitions are flattened to the default linear path", s.ID, len(s.Conditions)),
				StateID: s.ID,
			})
		}
		if s.Trigger != nil {
			v.Warnings = append(v.Warnings, Issue{
				Code:    CodeTriggerNotEvaluated,
				Message: fmt.Sprintf("state %q carries a trigger; triggers are the caller's responsibility and are not evaluated", s.ID),
				StateID: s.ID,
			})
		}
	}
}

// collectUnsupportedFeatures records state types the engine converts as
// pass-through.
func collectUnsupportedFeatures(def Definition, v *ConversionValidation) {
	for _, s := range def.States {
		switch s.Type {
		case StateTypeHumanGate:
			v.UnsupportedFeatures = append(v.UnsupportedFeatures,
				fmt.Sprintf("human_gate state %q is not supported and is treated as pass-through", s.ID))
		case StateTypeEscalation:
			v.UnsupportedFeatures = append(v.UnsupportedFeatures,
				fmt.Sprintf("escalation state %q is not supported and is treated as pass-through", s.ID))
		}
	}
}
