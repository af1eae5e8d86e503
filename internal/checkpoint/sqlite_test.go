package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJobRoundTrip(t *testing.T) {
	store := newTestStore(t)

	record := &JobRecord{
		ID:            "job-1",
		SourceProfile: "minio",
		SourceBucket:  "photos",
		SourcePrefix:  "2026/",
		TargetProfile: "azure",
		TargetBucket:  "archive",
		State:         "pending",
	}
	require.NoError(t, store.SaveJob(record))
	assert.False(t, record.CreatedAt.IsZero())

	got, err := store.GetJob("job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "photos", got.SourceBucket)
	assert.Equal(t, "2026/", got.SourcePrefix)
	assert.Equal(t, "pending", got.State)

	record.State = "copying"
	require.NoError(t, store.SaveJob(record))
	got, err = store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "copying", got.State)

	missing, err := store.GetJob("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListJobs(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"job-a", "job-b"} {
		require.NoError(t, store.SaveJob(&JobRecord{
			ID: id, SourceProfile: "s", SourceBucket: "b",
			TargetProfile: "t", TargetBucket: "c", State: "pending",
		}))
	}

	jobs, err := store.ListJobs()
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestTaskRoundTrip(t *testing.T) {
	store := newTestStore(t)

	task := &TaskRecord{
		JobID:  "job-1",
		Key:    "photos/cat.jpg",
		Size:   2048,
		ETag:   "abc123",
		Status: StatusPending,
	}
	require.NoError(t, store.SaveTask(task))

	got, err := store.GetTask("job-1", "photos/cat.jpg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2048), got.Size)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.LastError)

	task.Status = StatusFailed
	task.Attempts = 3
	task.LastError = "connection reset"
	require.NoError(t, store.SaveTask(task))

	got, err = store.GetTask("job-1", "photos/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "connection reset", got.LastError)

	missing, err := store.GetTask("job-1", "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCompletedTaskNeverDemoted(t *testing.T) {
	store := newTestStore(t)

	task := &TaskRecord{JobID: "job-1", Key: "k", Size: 10, Status: StatusCompleted}
	require.NoError(t, store.SaveTask(task))

	// A stale writer trying to mark the same key in_progress must lose.
	stale := &TaskRecord{JobID: "job-1", Key: "k", Size: 10, Status: StatusInProgress, BytesCopied: 5}
	require.NoError(t, store.SaveTask(stale))

	got, err := store.GetTask("job-1", "k")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestCompletedKeysIncludesSkipped(t *testing.T) {
	store := newTestStore(t)

	seed := []*TaskRecord{
		{JobID: "job-1", Key: "done", Size: 1, Status: StatusCompleted},
		{JobID: "job-1", Key: "skipped", Size: 1, Status: StatusSkipped},
		{JobID: "job-1", Key: "failed", Size: 1, Status: StatusFailed},
		{JobID: "job-1", Key: "partial", Size: 1, Status: StatusInProgress},
		{JobID: "job-2", Key: "other-job", Size: 1, Status: StatusCompleted},
	}
	for _, task := range seed {
		require.NoError(t, store.SaveTask(task))
	}

	keys, err := store.CompletedKeys("job-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"done": {}, "skipped": {}}, keys)
}

func TestInProgressOffsets(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveTask(&TaskRecord{
		JobID: "job-1", Key: "big.bin", Size: 1 << 30, Status: StatusInProgress, BytesCopied: 1 << 20,
	}))
	require.NoError(t, store.SaveTask(&TaskRecord{
		JobID: "job-1", Key: "untouched.bin", Size: 100, Status: StatusInProgress,
	}))

	offsets, err := store.InProgressOffsets("job-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"big.bin": 1 << 20}, offsets)
}

func TestListFailedTasks(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveTask(&TaskRecord{
		JobID: "job-1", Key: "bad", Size: 1, Status: StatusFailed, LastError: "denied",
	}))
	require.NoError(t, store.SaveTask(&TaskRecord{
		JobID: "job-1", Key: "fine", Size: 1, Status: StatusCompleted,
	}))

	failed, err := store.ListFailedTasks("job-1")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Key)
	assert.Equal(t, "denied", failed[0].LastError)
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	assert.Error(t, store.SaveJob(&JobRecord{ID: "x", State: "pending"}))
	assert.Error(t, store.SaveTask(&TaskRecord{JobID: "x", Key: "k", Status: StatusPending}))
}
