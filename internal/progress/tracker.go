package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status is a point-in-time snapshot of a job's progress. Safe to copy.
type Status struct {
	State string

	TotalObjects     int64
	ProcessedObjects int64
	SuccessObjects   int64
	FailedObjects    int64
	SkippedObjects   int64

	TotalBytes     int64
	ProcessedBytes int64

	StartTime    time.Time
	AverageSpeed float64 // bytes/second since start
	ETA          time.Duration
}

// Tracker accumulates progress counters under a single lock. Readers get a
// committed snapshot, never a torn update.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker starts a tracker clocked from now.
func NewTracker() *Tracker {
	return &Tracker{status: Status{StartTime: time.Now()}}
}

// SetState records the job state for display.
func (t *Tracker) SetState(state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = state
}

// SetTotal records the discovered object and byte totals.
func (t *Tracker) SetTotal(objects, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TotalObjects = objects
	t.status.TotalBytes = bytes
}

// AddSuccess counts one copied object.
func (t *Tracker) AddSuccess(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.SuccessObjects++
	t.status.ProcessedObjects++
	t.status.ProcessedBytes += bytes
}

// AddFailed counts one permanently failed object.
func (t *Tracker) AddFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.FailedObjects++
	t.status.ProcessedObjects++
}

// AddSkipped counts one object skipped as already present.
func (t *Tracker) AddSkipped(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.SkippedObjects++
	t.status.ProcessedObjects++
	t.status.ProcessedBytes += bytes
}

// GetStatus returns a snapshot with derived speed and ETA.
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := t.status
	elapsed := time.Since(status.StartTime).Seconds()
	if elapsed > 0 {
		status.AverageSpeed = float64(status.ProcessedBytes) / elapsed
	}
	if status.AverageSpeed > 0 && status.TotalBytes > status.ProcessedBytes {
		remaining := float64(status.TotalBytes-status.ProcessedBytes) / status.AverageSpeed
		status.ETA = time.Duration(remaining * float64(time.Second))
	}
	return status
}

// FormatBytes renders a byte count for display.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
