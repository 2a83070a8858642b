package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation of the Store interface.
// It is thread-safe and suitable for development, testing, and
// single-instance deployments. For distributed systems, use RedisStore or
// MySQLStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Data

	// execIndex maps execution IDs to their checkpoint IDs in save order.
	execIndex map[string][]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]Data),
		execIndex: make(map[string][]string),
	}
}

// Save persists a checkpoint record. Existing records with the same ID are
// replaced. A deep copy is stored, so later caller mutations never leak in.
func (s *MemoryStore) Save(ctx context.Context, data Data) error {
	if err := data.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[data.CheckpointID]; !exists {
		s.execIndex[data.ExecutionID] = append(s.execIndex[data.ExecutionID], data.CheckpointID)
	}
	s.records[data.CheckpointID] = data.Clone()
	return nil
}

// Get retrieves a checkpoint by ID.
func (s *MemoryStore) Get(ctx context.Context, checkpointID string) (Data, error) {
	if checkpointID == "" {
		return Data{}, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[checkpointID]
	if !exists {
		return Data{}, ErrNotFound
	}
	return record.Clone(), nil
}

// GetLatest returns the checkpoint with the maximum CreatedAt for the
// execution.
func (s *MemoryStore) GetLatest(ctx context.Context, executionID string) (Data, error) {
	if executionID == "" {
		return Data{}, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.execIndex[executionID]
	if len(ids) == 0 {
		return Data{}, ErrNotFound
	}

	var latest Data
	found := false
	for _, id := range ids {
		record, exists := s.records[id]
		if !exists {
			continue
		}
		if !found || record.CreatedAt.After(latest.CreatedAt) {
			latest = record
			found = true
		}
	}
	if !found {
		return Data{}, ErrNotFound
	}
	return latest.Clone(), nil
}

// GetAll returns every checkpoint for the execution, ascending by CreatedAt.
func (s *MemoryStore) GetAll(ctx context.Context, executionID string) ([]Data, error) {
	if executionID == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.execIndex[executionID]
	records := make([]Data, 0, len(ids))
	for _, id := range ids {
		if record, exists := s.records[id]; exists {
			records = append(records, record.Clone())
		}
	}
	sortByCreatedAt(records)
	return records, nil
}

// Delete removes a checkpoint by ID.
func (s *MemoryStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	if checkpointID == "" {
		return false, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[checkpointID]
	if !exists {
		return false, nil
	}
	delete(s.records, checkpointID)
	s.removeFromIndex(record.ExecutionID, checkpointID)
	return true, nil
}

// DeleteAll removes every checkpoint for the execution.
func (s *MemoryStore) DeleteAll(ctx context.Context, executionID string) (int, error) {
	if executionID == "" {
		return 0, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.execIndex[executionID]
	count := 0
	for _, id := range ids {
		if _, exists := s.records[id]; exists {
			delete(s.records, id)
			count++
		}
	}
	delete(s.execIndex, executionID)
	return count, nil
}

// CleanupOlderThan removes every checkpoint created before cutoff.
func (s *MemoryStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, record := range s.records {
		if record.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			s.removeFromIndex(record.ExecutionID, id)
			count++
		}
	}
	return count, nil
}

// Exists reports whether a checkpoint with the given ID is stored.
func (s *MemoryStore) Exists(ctx context.Context, checkpointID string) (bool, error) {
	if checkpointID == "" {
		return false, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.records[checkpointID]
	return exists, nil
}

// removeFromIndex drops one checkpoint ID from an execution's index and
// removes the index entry entirely once it is empty. Callers must hold the
// write lock.
func (s *MemoryStore) removeFromIndex(executionID, checkpointID string) {
	ids := s.execIndex[executionID]
	for i, id := range ids {
		if id == checkpointID {
			s.execIndex[executionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.execIndex[executionID]) == 0 {
		delete(s.execIndex, executionID)
	}
}
