package jobstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/apifabric/internal/batch"
	"github.com/vitaliisemenov/apifabric/internal/polling"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "jobs.db")
	store, err := Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_ArchiveAndListBatchJob(t *testing.T) {
	store := openTestStore(t)

	snap := batch.Snapshot{
		ID:         "job-1",
		APIName:    "api",
		PluginName: "plugin",
		Status:     batch.StatusCompleted,
		CreatedAt:  time.Now().Add(-time.Hour),
		StartTime:  time.Now().Add(-time.Hour),
		EndTime:    time.Now(),
	}
	store.ArchiveBatchJob(snap)

	jobs, err := store.List(context.Background(), KindBatch, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, "completed", jobs[0].Status)
}

func TestStore_ArchivePollingJob(t *testing.T) {
	store := openTestStore(t)

	snap := polling.Snapshot{
		ID:         "poll-1",
		APIName:    "api",
		PluginName: "plugin",
		LastRun:    time.Now(),
	}
	store.ArchivePollingJob(snap)

	jobs, err := store.List(context.Background(), KindPolling, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "poll-1", jobs[0].ID)
}

func TestStore_MigratesIdempotently(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "jobs.db")
	store1, err := Open(dsn, nil)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := Open(dsn, nil)
	require.NoError(t, err)
	defer store2.Close()

	jobs, err := store2.List(context.Background(), KindBatch, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
