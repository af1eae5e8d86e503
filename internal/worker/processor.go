package worker

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bucketview/internal/checkpoint"
	"bucketview/internal/metrics"
	"bucketview/internal/progress"
	"bucketview/internal/storage"
)

// inProgressSaveInterval bounds how often a running copy persists its byte
// offset to the checkpoint.
const inProgressSaveInterval = 5 * time.Second

// TaskProcessor copies one object at a time from source to target.
type TaskProcessor struct {
	config     Config
	source     storage.Backend
	target     storage.Backend
	checkpoint checkpoint.Store
	collector  *metrics.Collector
	tracker    *progress.Tracker
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Process runs a task to its terminal outcome: copied, skipped, or failed
// after exhausting retries. The outcome is persisted to the checkpoint
// before returning, so a restarted job never repeats a finished key.
func (p *TaskProcessor) Process(ctx context.Context, task Task) Outcome {
	startTime := time.Now()

	if record, err := p.checkpoint.GetTask(p.config.JobID, task.Key); err == nil && record != nil {
		if record.Status == checkpoint.StatusCompleted || record.Status == checkpoint.StatusSkipped {
			p.logger.Debug("Skipping completed task", zap.String("key", task.Key))
			return Outcome{Key: task.Key, Kind: OutcomeSkipped, Bytes: task.Size}
		}
	}

	if p.config.SkipExisting && p.targetMatches(ctx, task) {
		p.logger.Debug("Skipping existing object", zap.String("key", task.Key))
		p.saveTask(task, checkpoint.StatusSkipped, 0, task.Size, nil)
		p.collector.IncSkipped()
		p.tracker.AddSkipped(task.Size)
		return Outcome{Key: task.Key, Kind: OutcomeSkipped, Bytes: task.Size}
	}

	p.collector.WorkerStarted()
	defer p.collector.WorkerDone()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.config.Retries; attempt++ {
		attempts = attempt
		err := p.copyObject(ctx, task)
		if err == nil {
			p.saveTask(task, checkpoint.StatusCompleted, attempt, task.Size, nil)
			p.collector.IncSuccess()
			p.collector.AddBytes(task.Size)
			p.collector.ObserveDuration(time.Since(startTime))
			p.tracker.AddSuccess(task.Size)
			p.logger.Info("Task completed",
				zap.String("key", task.Key),
				zap.Int64("size", task.Size),
				zap.Duration("duration", time.Since(startTime)),
			)
			return Outcome{Key: task.Key, Kind: OutcomeSuccess, Bytes: task.Size, Attempts: attempt}
		}

		lastErr = err

		// Cancellation is not a failure; leave the task resumable.
		if ctx.Err() != nil {
			return Outcome{Key: task.Key, Kind: OutcomeFailed, Attempts: attempt, Err: ctx.Err()}
		}

		p.logger.Warn("Task attempt failed",
			zap.String("key", task.Key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if !storage.IsRetryable(err) {
			break
		}
		if attempt < p.config.Retries {
			select {
			case <-time.After(p.backoff(attempt)):
			case <-ctx.Done():
				return Outcome{Key: task.Key, Kind: OutcomeFailed, Attempts: attempt, Err: ctx.Err()}
			}
		}
	}

	p.saveTask(task, checkpoint.StatusFailed, attempts, 0, lastErr)
	p.collector.IncFailed()
	p.tracker.AddFailed()
	p.logger.Error("Task failed",
		zap.String("key", task.Key),
		zap.Error(lastErr),
	)
	return Outcome{Key: task.Key, Kind: OutcomeFailed, Attempts: attempts, Err: lastErr}
}

// copyObject streams the object through a bounded chunk pipe; at no point
// is more than one chunk of the object buffered outside the backends.
func (p *TaskProcessor) copyObject(ctx context.Context, task Task) error {
	src, err := p.source.GetObject(ctx, p.config.SourceBucket, task.Key, 0)
	if err != nil {
		return fmt.Errorf("get source object: %w", err)
	}
	defer src.Close()

	pipe := &throttledReader{
		ctx:     ctx,
		r:       src,
		limiter: p.limiter,
		chunk:   p.config.ChunkSize,
		onChunk: p.progressSaver(task),
	}

	opts := storage.PutOptions{
		ContentType: task.ContentType,
		Metadata:    task.Metadata,
	}

	_, err = p.target.PutObject(ctx, p.config.TargetBucket, p.targetKey(task.Key), pipe, task.Size, opts)
	if err != nil {
		return fmt.Errorf("put target object: %w", err)
	}
	return nil
}

// targetKey rebases the source key onto the target prefix.
func (p *TaskProcessor) targetKey(key string) string {
	rel := strings.TrimPrefix(key, p.config.SourcePrefix)
	return p.config.TargetPrefix + rel
}

// progressSaver persists the in-flight byte offset at a bounded interval.
func (p *TaskProcessor) progressSaver(task Task) func(total int64) {
	lastSave := time.Now()
	return func(total int64) {
		if time.Since(lastSave) < inProgressSaveInterval {
			return
		}
		lastSave = time.Now()
		p.saveTask(task, checkpoint.StatusInProgress, 0, total, nil)
	}
}

func (p *TaskProcessor) targetMatches(ctx context.Context, task Task) bool {
	info, err := p.target.HeadObject(ctx, p.config.TargetBucket, p.targetKey(task.Key))
	if err != nil {
		return false
	}
	return info.Size == task.Size && etagEqual(info.ETag, task.ETag)
}

func etagEqual(a, b string) bool {
	return strings.Trim(a, `"`) == strings.Trim(b, `"`)
}

func (p *TaskProcessor) saveTask(task Task, status checkpoint.TaskStatus, attempts int, bytesCopied int64, taskErr error) {
	record := &checkpoint.TaskRecord{
		JobID:       p.config.JobID,
		Key:         task.Key,
		Size:        task.Size,
		ETag:        task.ETag,
		Status:      status,
		Attempts:    attempts,
		BytesCopied: bytesCopied,
	}
	if taskErr != nil {
		record.LastError = taskErr.Error()
	}

	if err := p.checkpoint.SaveTask(record); err != nil {
		p.logger.Error("Failed to save task checkpoint",
			zap.String("key", task.Key),
			zap.Error(err))
	}
}

func (p *TaskProcessor) backoff(attempt int) time.Duration {
	base := time.Duration(p.config.RetryBackoffMs) * time.Millisecond
	return base * time.Duration(math.Pow(2, float64(attempt-1)))
}

// throttledReader caps each read at the chunk size, charges the shared
// token bucket, and observes cancellation between chunks so a worker
// unwinds cleanly without leaving a half-written object marked complete.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
	chunk   int64
	total   int64
	onChunk func(total int64)
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		return 0, err
	}
	if t.chunk > 0 && int64(len(p)) > t.chunk {
		p = p[:t.chunk]
	}

	n, err := t.r.Read(p)
	if n > 0 {
		if t.limiter != nil {
			if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
				return n, werr
			}
		}
		t.total += int64(n)
		if t.onChunk != nil {
			t.onChunk(t.total)
		}
	}
	return n, err
}
