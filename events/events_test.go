package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []Type{TypeCompleted, TypeError}
	for _, typ := range terminal {
		if !(ExecutionEvent{Type: typ}).IsTerminal() {
			t.Errorf("expected %s to be terminal", typ)
		}
	}

	nonTerminal := []Type{TypeStarted, TypeAgentStarted, TypeAgentMessage, TypeAgentCompleted, TypeSuperStepCompleted}
	for _, typ := range nonTerminal {
		if (ExecutionEvent{Type: typ}).IsTerminal() {
			t.Errorf("expected %s to be non-terminal", typ)
		}
	}
}

func TestIsCancellation(t *testing.T) {
	t.Parallel()

	event := ExecutionEvent{
		Type:     TypeError,
		Metadata: map[string]string{MetadataCancelled: "true"},
	}
	if !event.IsCancellation() {
		t.Error("expected error event tagged cancelled=true to be a cancellation")
	}

	plain := ExecutionEvent{Type: TypeError}
	if plain.IsCancellation() {
		t.Error("untagged error event should not be a cancellation")
	}

	completed := ExecutionEvent{
		Type:     TypeCompleted,
		Metadata: map[string]string{MetadataCancelled: "true"},
	}
	if completed.IsCancellation() {
		t.Error("only error events can be cancellations")
	}
}

func TestExecutionEventJSON(t *testing.T) {
	t.Parallel()

	event := ExecutionEvent{
		Type:         TypeAgentCompleted,
		ExecutionID:  "exec-42",
		WorkflowName: "triage",
		AgentName:    "planner",
		Content:      "done",
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Metadata:     map[string]string{MetadataStateID: "plan"},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}

	var decoded ExecutionEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshaling event: %v", err)
	}

	if decoded.Type != TypeAgentCompleted {
		t.Errorf("type = %s, want %s", decoded.Type, TypeAgentCompleted)
	}
	if decoded.AgentName != "planner" {
		t.Errorf("agent name = %s, want planner", decoded.AgentName)
	}
	if decoded.Metadata[MetadataStateID] != "plan" {
		t.Errorf("state_id metadata = %s, want plan", decoded.Metadata[MetadataStateID])
	}
	if !decoded.Timestamp.Equal(event.Timestamp) {
		t.Errorf("timestamp = %v, want %v", decoded.Timestamp, event.Timestamp)
	}
}
