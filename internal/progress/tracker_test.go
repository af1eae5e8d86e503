package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()
	tr.SetState("copying")
	tr.SetTotal(4, 400)

	tr.AddSuccess(100)
	tr.AddSuccess(100)
	tr.AddSkipped(100)
	tr.AddFailed()

	status := tr.GetStatus()
	assert.Equal(t, "copying", status.State)
	assert.Equal(t, int64(4), status.TotalObjects)
	assert.Equal(t, int64(4), status.ProcessedObjects)
	assert.Equal(t, int64(2), status.SuccessObjects)
	assert.Equal(t, int64(1), status.SkippedObjects)
	assert.Equal(t, int64(1), status.FailedObjects)
	assert.Equal(t, int64(300), status.ProcessedBytes)
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.AddSuccess(1)
			}
		}()
	}
	wg.Wait()

	status := tr.GetStatus()
	assert.Equal(t, int64(800), status.SuccessObjects)
	assert.Equal(t, int64(800), status.ProcessedBytes)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{3 * 1024 * 1024, "3.0 MiB"},
		{5 * 1024 * 1024 * 1024, "5.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}
