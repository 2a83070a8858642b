// Package checkpoint provides durable persistence for workflow execution
// checkpoints. A checkpoint captures everything needed to resume a run: the
// opaque native runtime state, the serialized workflow definition it was
// built from, and the original input.
//
// Four backends ship with the engine: an in-memory store for tests and
// single-process use, a filesystem store, a Redis store for distributed
// deployments, and a MySQL store. All of them implement Store and share the
// same semantics.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a checkpoint doesn't exist in the store.
var ErrNotFound = errors.New("checkpoint not found")

// ErrInvalidID is returned when an empty checkpoint or execution ID is
// provided.
var ErrInvalidID = errors.New("invalid checkpoint ID")

// ErrInvalidData is returned when a checkpoint record is missing required
// fields.
var ErrInvalidData = errors.New("invalid checkpoint data")

// Data is one persisted checkpoint record. It is stored as self-describing
// JSON so external tooling can inspect it; field names are stable.
type Data struct {
	// CheckpointID addresses this record. Unique across executions.
	CheckpointID string `json:"checkpoint_id"`
	// ExecutionID groups every checkpoint of one run.
	ExecutionID string `json:"execution_id"`
	// WorkflowName is the name of the definition the run was built from.
	WorkflowName string `json:"workflow_name"`
	// CurrentStateID is the definition state the run had reached, when known.
	CurrentStateID string `json:"current_state_id,omitempty"`
	// NativeState is the runtime's opaque resume token. The engine never
	// interprets it beyond serialize/deserialize.
	NativeState []byte `json:"native_state,omitempty"`
	// Input is the original run input, carried forward on resume.
	Input string `json:"input,omitempty"`
	// Context is the serialized workflow definition. Resume rebuilds the
	// task graph from it; without it a checkpoint cannot be resumed.
	Context json.RawMessage `json:"context,omitempty"`
	// CreatedAt orders checkpoints within an execution.
	CreatedAt time.Time `json:"created_at"`
	// ExecutionStartedAt is when the original run began, carried forward
	// unchanged on resume.
	ExecutionStartedAt time.Time `json:"execution_started_at"`
	// Metadata carries engine bookkeeping such as the engine version.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy, so callers can hold records without sharing
// mutable state with the store.
func (d Data) Clone() Data {
	clone := d
	if d.NativeState != nil {
		clone.NativeState = make([]byte, len(d.NativeState))
		copy(clone.NativeState, d.NativeState)
	}
	if d.Context != nil {
		clone.Context = make(json.RawMessage, len(d.Context))
		copy(clone.Context, d.Context)
	}
	if d.Metadata != nil {
		clone.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// validate checks the fields every backend requires before a save.
func (d Data) validate() error {
	if d.CheckpointID == "" || d.ExecutionID == "" {
		return ErrInvalidID
	}
	if d.WorkflowName == "" {
		return ErrInvalidData
	}
	return nil
}

// NewID returns a fresh checkpoint identifier.
func NewID() string {
	return "cp-" + uuid.NewString()
}

// Store defines the interface for durable checkpoint persistence.
//
// Implementations serialize writes so concurrent saves never corrupt one
// another; reads take no exclusive lock. All identifiers are sanitized
// before being used as storage keys or paths.
type Store interface {
	// Save persists a checkpoint record, replacing any record with the
	// same checkpoint ID.
	Save(ctx context.Context, data Data) error

	// Get retrieves a checkpoint by its ID.
	// Returns ErrNotFound if no such checkpoint exists.
	Get(ctx context.Context, checkpointID string) (Data, error)

	// GetLatest returns the checkpoint with the maximum CreatedAt for the
	// execution. Returns ErrNotFound if the execution has no checkpoints.
	GetLatest(ctx context.Context, executionID string) (Data, error)

	// GetAll returns every checkpoint for the execution, ascending by
	// CreatedAt. An execution without checkpoints yields an empty slice.
	GetAll(ctx context.Context, executionID string) ([]Data, error)

	// Delete removes a checkpoint by ID and reports whether a record was
	// actually removed.
	Delete(ctx context.Context, checkpointID string) (bool, error)

	// DeleteAll removes every checkpoint for the execution and returns the
	// number of records removed.
	DeleteAll(ctx context.Context, executionID string) (int, error)

	// CleanupOlderThan removes every checkpoint created before cutoff,
	// across all executions, and returns the number removed.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Exists reports whether a checkpoint with the given ID is stored.
	Exists(ctx context.Context, checkpointID string) (bool, error)
}

// sanitizeID maps an identifier to a form safe for storage keys and file
// paths. Only letters, digits, hyphen and underscore survive; everything
// else, including dots and separators, becomes an underscore so no id can
// traverse outside its container.
func sanitizeID(id string) string {
	out := []byte(id)
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// sortByCreatedAt orders records ascending by CreatedAt, oldest first.
func sortByCreatedAt(records []Data) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
