package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore provides a Redis-backed implementation of the Store interface.
// Checkpoints are stored as JSON values with a per-execution set indexing
// them, so latest/all lookups never scan the keyspace. This implementation
// is suitable for distributed systems where several engine instances share
// one store.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for checkpoint records. After this duration
// checkpoints are automatically deleted. Default is 0: checkpoints are kept
// until explicitly removed.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys. Default is "ironbees".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed checkpoint store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithPrefix("myapp"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: "ironbees",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Save persists a checkpoint to Redis.
// Uses a pipeline to batch the SET and the execution index update into a
// single round-trip.
func (s *RedisStore) Save(ctx context.Context, data Data) error {
	if err := data.validate(); err != nil {
		return err
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	indexKey := s.executionIndexKey(data.ExecutionID)

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.checkpointKey(data.CheckpointID), encoded, s.ttl)
	pipe.SAdd(ctx, indexKey, data.CheckpointID)
	if s.ttl > 0 {
		pipe.Expire(ctx, indexKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Get retrieves a checkpoint by ID from Redis.
func (s *RedisStore) Get(ctx context.Context, checkpointID string) (Data, error) {
	if checkpointID == "" {
		return Data{}, ErrInvalidID
	}

	raw, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Data{}, ErrNotFound
		}
		return Data{}, fmt.Errorf("redis get failed: %w", err)
	}

	var record Data
	if err := json.Unmarshal(raw, &record); err != nil {
		return Data{}, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}
	return record, nil
}

// GetLatest returns the checkpoint with the maximum CreatedAt for the
// execution.
func (s *RedisStore) GetLatest(ctx context.Context, executionID string) (Data, error) {
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
func (s *RedisStore) GetAll(ctx context.Context, executionID string) ([]Data, error) {
	if executionID == "" {
		return nil, ErrInvalidID
	}

	ids, err := s.client.SMembers(ctx, s.executionIndexKey(executionID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}

	records, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByCreatedAt(records)
	return records, nil
}

// Delete removes a checkpoint from Redis along with its index entry.
func (s *RedisStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	if checkpointID == "" {
		return false, ErrInvalidID
	}

	// Load first to learn the owning execution for index cleanup.
	record, err := s.Get(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	pipe := s.client.Pipeline()
	delCmd := pipe.Del(ctx, s.checkpointKey(checkpointID))
	pipe.SRem(ctx, s.executionIndexKey(record.ExecutionID), checkpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis pipeline failed: %w", err)
	}
	return delCmd.Val() > 0, nil
}

// DeleteAll removes every checkpoint for the execution and its index.
func (s *RedisStore) DeleteAll(ctx context.Context, executionID string) (int, error) {
	if executionID == "" {
		return 0, ErrInvalidID
	}

	indexKey := s.executionIndexKey(executionID)
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis smembers failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	delCmds := make([]*redis.IntCmd, 0, len(ids))
	for _, id := range ids {
		delCmds = append(delCmds, pipe.Del(ctx, s.checkpointKey(id)))
	}
	pipe.Del(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis pipeline failed: %w", err)
	}

	count := 0
	for _, cmd := range delCmds {
		count += int(cmd.Val())
	}
	return count, nil
}

// CleanupOlderThan removes every checkpoint created before cutoff, scanning
// the full checkpoint keyspace.
func (s *RedisStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.checkpointKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return count, fmt.Errorf("redis get failed: %w", err)
		}

		var record Data
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		if !record.CreatedAt.Before(cutoff) {
			continue
		}

		pipe := s.client.Pipeline()
		delCmd := pipe.Del(ctx, iter.Val())
		pipe.SRem(ctx, s.executionIndexKey(record.ExecutionID), record.CheckpointID)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("redis pipeline failed: %w", err)
		}
		count += int(delCmd.Val())
	}
	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

// Exists reports whether a checkpoint with the given ID is stored.
func (s *RedisStore) Exists(ctx context.Context, checkpointID string) (bool, error) {
	if checkpointID == "" {
		return false, ErrInvalidID
	}

	n, err := s.client.Exists(ctx, s.checkpointKey(checkpointID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// loadMany fetches multiple checkpoints using a single pipelined GET.
// Records that expired between the index read and the fetch are skipped.
func (s *RedisStore) loadMany(ctx context.Context, ids []string) ([]Data, error) {
	if len(ids) == 0 {
		return []Data{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.checkpointKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	records := make([]Data, 0, len(ids))
	for _, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("redis get failed: %w", err)
		}
		var record Data
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

// checkpointKey generates the Redis key for a checkpoint record.
func (s *RedisStore) checkpointKey(id string) string {
	if id == "*" {
		return fmt.Sprintf("%s:checkpoint:*", s.prefix)
	}
	return fmt.Sprintf("%s:checkpoint:%s", s.prefix, sanitizeID(id))
}

// executionIndexKey generates the Redis key for an execution's checkpoint
// index.
func (s *RedisStore) executionIndexKey(executionID string) string {
	return fmt.Sprintf("%s:execution:%s:checkpoints", s.prefix, sanitizeID(executionID))
}
