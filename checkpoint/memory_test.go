package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	data := sampleData("cp-1", "exec-1", time.Now().UTC())

	require.NoError(t, store.Save(ctx, data))

	loaded, err := store.Get(ctx, "cp-1")
	require.NoError(t, err)
	assertDataEqual(t, data, loaded)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_InvalidID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)

	err = store.Save(ctx, Data{ExecutionID: "exec-1", WorkflowName: "triage"})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestMemoryStore_SaveReplacesExisting(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := sampleData("cp-1", "exec-1", time.Now().UTC())
	require.NoError(t, store.Save(ctx, data))

	data.CurrentStateID = "code"
	require.NoError(t, store.Save(ctx, data))

	loaded, err := store.Get(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "code", loaded.CurrentStateID)

	all, err := store.GetAll(ctx, "exec-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_SaveStoresCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := sampleData("cp-1", "exec-1", time.Now().UTC())
	require.NoError(t, store.Save(ctx, data))

	// Mutating the caller's record after save must not affect the store.
	data.Metadata["engine_version"] = "mutated"
	data.NativeState[0] = 'X'

	loaded, err := store.Get(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", loaded.Metadata["engine_version"])
	assert.Equal(t, byte('{'), loaded.NativeState[0])
}

func TestMemoryStore_GetLatestPicksMaxCreatedAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	// Saved out of order; the maximum CreatedAt must win.
	require.NoError(t, store.Save(ctx, sampleData("cp-2", "exec-1", base.Add(time.Hour))))
	require.NoError(t, store.Save(ctx, sampleData("cp-3", "exec-1", base.Add(2*time.Hour))))
	require.NoError(t, store.Save(ctx, sampleData("cp-1", "exec-1", base)))

	latest, err := store.GetLatest(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-3", latest.CheckpointID)
}

func TestMemoryStore_GetLatestNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetLatest(context.Background(), "exec-none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GetAllAscending(t *testing.T) {
	store := NewMemoryStore()
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

func TestMemoryStore_GetAllEmpty(t *testing.T) {
	store := NewMemoryStore()

	all, err := store.GetAll(context.Background(), "exec-none")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleData("cp-1", "exec-1", time.Now().UTC())))

	deleted, err := store.Delete(ctx, "cp-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "cp-1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = store.Get(ctx, "cp-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteAllRemovesOnlyThatExecution(t *testing.T) {
	store := NewMemoryStore()
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

	// Records under other execution IDs are untouched.
	survivor, err := store.Get(ctx, "cp-3")
	require.NoError(t, err)
	assert.Equal(t, "exec-2", survivor.ExecutionID)
}

func TestMemoryStore_CleanupOlderThan(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, store.Save(ctx, sampleData("old-1", "exec-1", base.Add(-2*time.Hour))))
	require.NoError(t, store.Save(ctx, sampleData("old-2", "exec-2", base.Add(-time.Hour))))
	require.NoError(t, store.Save(ctx, sampleData("fresh", "exec-1", base)))

	count, err := store.CleanupOlderThan(ctx, base.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	exists, err := store.Exists(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "old-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_Exists(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exists, err := store.Exists(ctx, "cp-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Save(ctx, sampleData("cp-1", "exec-1", time.Now().UTC())))

	exists, err = store.Exists(ctx, "cp-1")
	require.NoError(t, err)
	assert.True(t, exists)
}
