package checkpoint

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMySQLStore connects to the database named by IRONBEES_MYSQL_DSN, or
// skips the test when the variable is unset. The DSN must include
// parseTime=true.
func setupMySQLStore(t *testing.T) *MySQLStore {
	t.Helper()

	dsn := os.Getenv("IRONBEES_MYSQL_DSN")
	if dsn == "" {
		t.Skip("IRONBEES_MYSQL_DSN not set, skipping MySQL integration test")
	}

	store, err := NewMySQLStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// mysqlSample builds a record with times truncated to microseconds, matching
// DATETIME(6) precision.
func mysqlSample(checkpointID, executionID string, createdAt time.Time) Data {
	return sampleData(checkpointID, executionID, createdAt.UTC().Truncate(time.Microsecond))
}

func TestMySQLStore_SaveAndGet(t *testing.T) {
	store := setupMySQLStore(t)
	ctx := context.Background()

	execID := "exec-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = store.DeleteAll(context.Background(), execID)
	})

	data := mysqlSample(NewID(), execID, time.Now())
	require.NoError(t, store.Save(ctx, data))

	loaded, err := store.Get(ctx, data.CheckpointID)
	require.NoError(t, err)
	assertDataEqual(t, data, loaded)
}

func TestMySQLStore_GetNotFound(t *testing.T) {
	store := setupMySQLStore(t)

	_, err := store.Get(context.Background(), "cp-"+uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMySQLStore_GetLatestAndGetAll(t *testing.T) {
	store := setupMySQLStore(t)
	ctx := context.Background()
	base := time.Now()

	execID := "exec-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = store.DeleteAll(context.Background(), execID)
	})

	second := mysqlSample(NewID(), execID, base.Add(time.Hour))
	first := mysqlSample(NewID(), execID, base)
	require.NoError(t, store.Save(ctx, second))
	require.NoError(t, store.Save(ctx, first))

	latest, err := store.GetLatest(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, second.CheckpointID, latest.CheckpointID)

	all, err := store.GetAll(ctx, execID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.CheckpointID, all[0].CheckpointID)
	assert.Equal(t, second.CheckpointID, all[1].CheckpointID)
}

func TestMySQLStore_DeleteAndDeleteAll(t *testing.T) {
	store := setupMySQLStore(t)
	ctx := context.Background()
	base := time.Now()

	execID := "exec-" + uuid.NewString()
	otherExecID := "exec-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = store.DeleteAll(context.Background(), execID)
		_, _ = store.DeleteAll(context.Background(), otherExecID)
	})

	doomed := mysqlSample(NewID(), execID, base)
	kept := mysqlSample(NewID(), execID, base.Add(time.Minute))
	other := mysqlSample(NewID(), otherExecID, base)
	require.NoError(t, store.Save(ctx, doomed))
	require.NoError(t, store.Save(ctx, kept))
	require.NoError(t, store.Save(ctx, other))

	deleted, err := store.Delete(ctx, doomed.CheckpointID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, doomed.CheckpointID)
	require.NoError(t, err)
	assert.False(t, deleted)

	count, err := store.DeleteAll(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := store.Exists(ctx, other.CheckpointID)
	require.NoError(t, err)
	assert.True(t, exists)
}
