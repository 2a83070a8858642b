package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// dirPerms is the permission mode for created directories.
	dirPerms = 0o750
	// filePerms is the permission mode for checkpoint files.
	filePerms = 0o600

	checkpointExt = ".json"
)

// FileStore persists checkpoints as JSON files on the local filesystem, one
// directory per execution:
//
//	<baseDir>/<executionID>/<checkpointID>.json
//
// Writes are serialized through a single mutex; reads never take it, so
// concurrent executions sharing one store only contend on the write path.
type FileStore struct {
	baseDir string
	writeMu sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a filesystem-backed checkpoint store rooted at
// baseDir, creating the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, dirPerms); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Save persists a checkpoint record, replacing any file with the same ID.
func (s *FileStore) Save(ctx context.Context, data Data) error {
	if err := data.validate(); err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	execDir := filepath.Join(s.baseDir, sanitizeID(data.ExecutionID))
	if err := os.MkdirAll(execDir, dirPerms); err != nil {
		return fmt.Errorf("creating execution directory: %w", err)
	}

	path := filepath.Join(execDir, sanitizeID(data.CheckpointID)+checkpointExt)
	return writeFileAtomic(path, encoded)
}

// Get retrieves a checkpoint by ID, scanning execution directories.
func (s *FileStore) Get(ctx context.Context, checkpointID string) (Data, error) {
	if checkpointID == "" {
		return Data{}, ErrInvalidID
	}

	path, err := s.findCheckpoint(checkpointID)
	if err != nil {
		return Data{}, err
	}
	return readRecord(path)
}

// GetLatest returns the checkpoint with the maximum CreatedAt for the
// execution.
func (s *FileStore) GetLatest(ctx context.Context, executionID string) (Data, error) {
	records, err := s.GetAll(ctx, executionID)
	if err != nil {
		return Data{}, err
	}
	if len(records) == 0 {
		return Data{}, ErrNotFound
	}
	return records[len(records)-1], nil
}

// GetAll returns every checkpoint for the execution, ascending by CreatedAt.
func (s *FileStore) GetAll(ctx context.Context, executionID string) ([]Data, error) {
	if executionID == "" {
		return nil, ErrInvalidID
	}

	execDir := filepath.Join(s.baseDir, sanitizeID(executionID))
	entries, err := os.ReadDir(execDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Data{}, nil
		}
		return nil, fmt.Errorf("reading execution directory: %w", err)
	}

	records := make([]Data, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), checkpointExt) {
			continue
		}
		record, err := readRecord(filepath.Join(execDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	sortByCreatedAt(records)
	return records, nil
}

// Delete removes a checkpoint by ID. The execution's directory is removed
// too once its last checkpoint is gone.
func (s *FileStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	if checkpointID == "" {
		return false, ErrInvalidID
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	path, err := s.findCheckpoint(checkpointID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("removing checkpoint: %w", err)
	}
	s.removeIfEmpty(filepath.Dir(path))
	return true, nil
}

// DeleteAll removes every checkpoint for the execution along with its
// directory, returning the number of records removed.
func (s *FileStore) DeleteAll(ctx context.Context, executionID string) (int, error) {
	if executionID == "" {
		return 0, ErrInvalidID
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	execDir := filepath.Join(s.baseDir, sanitizeID(executionID))
	entries, err := os.ReadDir(execDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading execution directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), checkpointExt) {
			count++
		}
	}
	if err := os.RemoveAll(execDir); err != nil {
		return 0, fmt.Errorf("removing execution directory: %w", err)
	}
	return count, nil
}

// CleanupOlderThan removes every checkpoint created before cutoff.
func (s *FileStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	execDirs, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("reading base directory: %w", err)
	}

	count := 0
	for _, dir := range execDirs {
		if !dir.IsDir() {
			continue
		}
		execDir := filepath.Join(s.baseDir, dir.Name())
		entries, err := os.ReadDir(execDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), checkpointExt) {
				continue
			}
			path := filepath.Join(execDir, entry.Name())
			record, err := readRecord(path)
			if err != nil {
				continue
			}
			if record.CreatedAt.Before(cutoff) {
				if err := os.Remove(path); err == nil {
					count++
				}
			}
		}
		s.removeIfEmpty(execDir)
	}
	return count, nil
}

// Exists reports whether a checkpoint with the given ID is stored.
func (s *FileStore) Exists(ctx context.Context, checkpointID string) (bool, error) {
	if checkpointID == "" {
		return false, ErrInvalidID
	}

	_, err := s.findCheckpoint(checkpointID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// findCheckpoint locates a checkpoint file by scanning execution
// directories. Checkpoint IDs are unique across executions, so the first
// match wins.
func (s *FileStore) findCheckpoint(checkpointID string) (string, error) {
	filename := sanitizeID(checkpointID) + checkpointExt

	execDirs, err := os.ReadDir(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("reading base directory: %w", err)
	}

	for _, dir := range execDirs {
		if !dir.IsDir() {
			continue
		}
		path := filepath.Join(s.baseDir, dir.Name(), filename)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNotFound
}

// removeIfEmpty removes an execution directory once it holds no entries.
// The base directory itself is never removed.
func (s *FileStore) removeIfEmpty(dir string) {
	if dir == s.baseDir {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(dir)
}

func readRecord(path string) (Data, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is built from sanitized IDs under the base directory
	if err != nil {
		if os.IsNotExist(err) {
			return Data{}, ErrNotFound
		}
		return Data{}, fmt.Errorf("reading checkpoint: %w", err)
	}

	var record Data
	if err := json.Unmarshal(data, &record); err != nil {
		return Data{}, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}
	return record, nil
}

// writeFileAtomic writes to a temporary file and renames it into place, so
// a crash mid-write never leaves a truncated checkpoint behind.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, filePerms); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	return nil
}
