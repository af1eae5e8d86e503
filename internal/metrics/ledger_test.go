package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, now time.Time) *Ledger {
	t.Helper()
	l, err := NewLedger(t.TempDir())
	require.NoError(t, err)
	l.now = func() time.Time { return now }
	return l
}

func TestLedgerRecordAndSummarize(t *testing.T) {
	now := time.Date(2026, 8, 29, 14, 20, 0, 0, time.UTC)
	l := newTestLedger(t, now)

	require.NoError(t, l.Record("minio", RequestList))
	require.NoError(t, l.Record("minio", RequestGet))
	require.NoError(t, l.Record("minio", RequestGet))
	require.NoError(t, l.Record("azure", RequestPut))

	sum, err := l.Summarize("minio")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Counts[RequestList])
	assert.Equal(t, int64(2), sum.Counts[RequestGet])
	assert.Equal(t, int64(0), sum.Counts[RequestPut])
	assert.Equal(t, int64(3), sum.Total)
	assert.Equal(t, SummaryWindow, sum.Window)

	sum, err = l.Summarize("azure")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Total)
}

func TestLedgerSummarizeUnknownProfile(t *testing.T) {
	l := newTestLedger(t, time.Now())

	sum, err := l.Summarize("never-seen")
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
}

func TestLedgerSummaryWindowExcludesOldHours(t *testing.T) {
	now := time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC)
	l := newTestLedger(t, now)

	// Event written four days ago lands in an old hour file.
	l.now = func() time.Time { return now.Add(-4 * 24 * time.Hour) }
	require.NoError(t, l.Record("minio", RequestGet))

	// Event inside the window.
	l.now = func() time.Time { return now.Add(-time.Hour) }
	require.NoError(t, l.Record("minio", RequestGet))

	l.now = func() time.Time { return now }
	sum, err := l.Summarize("minio")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Total)
}

func TestLedgerRetentionPrunesOnWrite(t *testing.T) {
	now := time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC)
	l := newTestLedger(t, now)

	// Seed a file well past the 30-day retention.
	old := now.Add(-31 * 24 * time.Hour).Truncate(time.Hour)
	profileDir := filepath.Join(l.dir, "minio")
	require.NoError(t, os.MkdirAll(profileDir, 0o755))
	oldPath := filepath.Join(profileDir, old.Format(hourFileFormat)+".jsonl")
	require.NoError(t, os.WriteFile(oldPath, []byte(`{"profile":"minio","request_type":"GET","count":1}`+"\n"), 0o644))

	require.NoError(t, l.Record("minio", RequestPut))

	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "expired hour file should be pruned")

	current := filepath.Join(profileDir, now.Truncate(time.Hour).Format(hourFileFormat)+".jsonl")
	_, err = os.Stat(current)
	assert.NoError(t, err)
}

func TestLedgerSkipsTornLines(t *testing.T) {
	now := time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC)
	l := newTestLedger(t, now)

	require.NoError(t, l.Record("minio", RequestGet))

	// Simulate a crash mid-append.
	path := filepath.Join(l.dir, "minio", now.Truncate(time.Hour).Format(hourFileFormat)+".jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"profile":"mini`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sum, err := l.Summarize("minio")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Total)
}

func TestParseHourFile(t *testing.T) {
	hour, ok := parseHourFile("2026082914.jsonl")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC), hour)

	_, ok = parseHourFile("notes.txt")
	assert.False(t, ok)
	_, ok = parseHourFile("20260829.jsonl")
	assert.False(t, ok)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "prod-minio_v2", sanitizeName("prod-minio_v2"))
	assert.Equal(t, "a_b_c", sanitizeName("a/b:c"))
}
