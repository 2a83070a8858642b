package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisStore creates a test Redis store backed by miniredis.
func setupRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return NewRedisStore(client, opts...), mr
}

func TestRedisStore_SaveAndGet(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	data := sampleData("cp-1", "exec-1", time.Now().UTC())

	require.NoError(t, store.Save(ctx, data))

	loaded, err := store.Get(ctx, "cp-1")
	require.NoError(t, err)
	assertDataEqual(t, data, loaded)
}

func TestRedisStore_GetNotFound(t *testing.T) {
	store, _ := setupRedisStore(t)

	_, err := store.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_InvalidID(t *testing.T) {
	store, _ := setupRedisStore(t)

	_, err := store.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestRedisStore_KeysUsePrefix(t *testing.T) {
	store, mr := setupRedisStore(t, WithPrefix("myapp"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleData("cp-1", "exec-1", time.Now().UTC())))

	assert.True(t, mr.Exists("myapp:checkpoint:cp-1"))
	assert.True(t, mr.Exists("myapp:execution:exec-1:checkpoints"))
}

func TestRedisStore_GetLatestPicksMaxCreatedAt(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, store.Save(ctx, sampleData("cp-2", "exec-1", base.Add(time.Hour))))
	require.NoError(t, store.Save(ctx, sampleData("cp-3", "exec-1", base.Add(2*time.Hour))))
	require.NoError(t, store.Save(ctx, sampleData("cp-1", "exec-1", base)))

	latest, err := store.GetLatest(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-3", latest.CheckpointID)
}

func TestRedisStore_GetLatestNotFound(t *testing.T) {
	store, _ := setupRedisStore(t)

	_, err := store.GetLatest(context.Background(), "exec-none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_GetAllAscending(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, store.Save(ctx, sampleData("cp-2", "exec-1", base.Add(time.Hour))))
	require.NoError(t, store.Save(ctx, sampleData("cp-1", "exec-1", base)))
	require.NoError(t, store.Save(ctx, sampleData("other", "exec-2", base)))

	all, err := store.GetAll(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "cp-1", all[0].CheckpointID)
	assert.Equal(t, "cp-2", all[1].CheckpointID)
}

func TestRedisStore_Delete(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleData("cp-1", "exec-1", time.Now().UTC())))

	deleted, err := store.Delete(ctx, "cp-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "cp-1")
	require.NoError(t, err)
	assert.False(t, deleted)

	// Index entry is cleaned up alongside the record.
	members, _ := mr.SMembers("ironbees:execution:exec-1:checkpoints")
	assert.Empty(t, members)
}

func TestRedisStore_DeleteAllRemovesOnlyThatExecution(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, store.Save(ctx, sampleData("cp-1", "exec-1", base)))
	require.NoError(t, store.Save(ctx, sampleData("cp-2", "exec-1", base.Add(time.Minute))))
	require.NoError(t, store.Save(ctx, sampleData("cp-3", "exec-2", base)))

	count, err := store.DeleteAll(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = store.Get(ctx, "cp-1")
	assert.ErrorIs(t, err, ErrNotFound)

	survivor, err := store.Get(ctx, "cp-3")
	require.NoError(t, err)
	assert.Equal(t, "exec-2", survivor.ExecutionID)
}

func TestRedisStore_CleanupOlderThan(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, store.Save(ctx, sampleData("old-1", "exec-1", base.Add(-2*time.Hour))))
	require.NoError(t, store.Save(ctx, sampleData("old-2", "exec-2", base.Add(-time.Hour))))
	require.NoError(t, store.Save(ctx, sampleData("fresh", "exec-1", base)))

	count, err := store.CleanupOlderThan(ctx, base.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	exists, err := store.Exists(ctx, "old-1")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = store.Exists(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedisStore_TTLExpiresRecords(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleData("cp-1", "exec-1", time.Now().UTC())))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "cp-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Exists(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "cp-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Save(ctx, sampleData("cp-1", "exec-1", time.Now().UTC())))

	exists, err = store.Exists(ctx, "cp-1")
	require.NoError(t, err)
	assert.True(t, exists)
}
