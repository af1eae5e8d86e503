package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"bucketview/internal/checkpoint"
	"bucketview/internal/metrics"
	"bucketview/internal/progress"
	"bucketview/internal/storage"
	"bucketview/internal/worker"
)

// Engine orchestrates migration jobs between a source and target backend.
// Progress is exposed as a polling snapshot; no UI mechanism is assumed.
type Engine struct {
	source    storage.Backend
	target    storage.Backend
	store     checkpoint.Store
	collector *metrics.Collector
	tracker   *progress.Tracker
	logger    *zap.Logger
}

// New creates an engine copying from source to target. The backends are
// expected to be instrumented by the caller so API usage is metered.
func New(source, target storage.Backend, store checkpoint.Store, collector *metrics.Collector, logger *zap.Logger) *Engine {
	return &Engine{
		source:    source,
		target:    target,
		store:     store,
		collector: collector,
		tracker:   progress.NewTracker(),
		logger:    logger,
	}
}

// Snapshot returns the current progress for display.
func (e *Engine) Snapshot() progress.Status {
	return e.tracker.GetStatus()
}

// Submit validates the spec and persists a new pending job.
func (e *Engine) Submit(spec JobSpec) (*Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	job := newJob(spec)
	if err := e.store.SaveJob(job.record()); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	return job, nil
}

// Resume reloads a persisted job and runs it from its checkpoint. Routing
// fields come from the stored record; tuning comes from the supplied spec.
func (e *Engine) Resume(ctx context.Context, jobID string, tuning JobSpec) (*Manifest, error) {
	record, err := e.store.GetJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("unknown job %q", jobID)
	}

	job := &Job{
		ID:        record.ID,
		State:     State(record.State),
		CreatedAt: record.CreatedAt,
		Spec:      tuning,
	}
	job.Spec.SourceProfile = record.SourceProfile
	job.Spec.SourceBucket = record.SourceBucket
	job.Spec.SourcePrefix = record.SourcePrefix
	job.Spec.TargetProfile = record.TargetProfile
	job.Spec.TargetBucket = record.TargetBucket
	job.Spec.TargetPrefix = record.TargetPrefix

	return e.Run(ctx, job)
}

// Run drives the job through its state machine to a terminal state, or to
// Paused when the context is cancelled. A finished job always returns a
// manifest of per-object outcomes.
func (e *Engine) Run(ctx context.Context, job *Job) (*Manifest, error) {
	if job.State.Terminal() {
		return nil, fmt.Errorf("job %s is already %s", job.ID, job.State)
	}

	manifest := &Manifest{JobID: job.ID}

	e.setState(job, StateDiscovering)
	e.logger.Info("Discovering source objects",
		zap.String("job_id", job.ID),
		zap.String("bucket", job.Spec.SourceBucket),
		zap.String("prefix", job.Spec.SourcePrefix),
	)

	completed, err := e.store.CompletedKeys(job.ID)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if offsets, err := e.store.InProgressOffsets(job.ID); err == nil && len(offsets) > 0 {
		// Committed uploads are atomic, so partial objects restart from
		// zero; the offsets only tell us how much work was lost.
		e.logger.Info("Restarting partially copied objects",
			zap.Int("count", len(offsets)))
	}

	tasks, totalBytes, err := e.discover(ctx, job, completed, manifest)
	if err != nil {
		if ctx.Err() != nil {
			return e.pause(job, manifest), nil
		}
		e.setState(job, StateFailed)
		manifest.State = StateFailed
		return manifest, fmt.Errorf("discovery failed: %w", err)
	}

	e.tracker.SetTotal(int64(len(tasks)+manifest.Skipped), totalBytes)
	e.logger.Info("Discovery finished",
		zap.Int("objects", len(tasks)),
		zap.Int("already_completed", manifest.Skipped),
		zap.String("total_size", progress.FormatBytes(totalBytes)),
	)

	if job.Spec.DryRun {
		for _, t := range tasks {
			manifest.add(ObjectOutcome{Key: t.Key, Status: "discovered", Bytes: t.Size})
		}
		manifest.State = job.State
		return manifest, nil
	}

	e.setState(job, StateCopying)
	exceeded := e.runCopy(ctx, job, tasks, manifest)

	if ctx.Err() != nil {
		return e.pause(job, manifest), nil
	}
	if exceeded {
		e.setState(job, StateFailed)
		manifest.State = StateFailed
		return manifest, fmt.Errorf("job failed: %d objects failed, tolerance is %d",
			manifest.Failed, job.Spec.FailureTolerance)
	}

	if job.Spec.Verify {
		e.setState(job, StateVerifying)
		if err := e.verify(ctx, job, manifest); err != nil {
			if ctx.Err() != nil {
				return e.pause(job, manifest), nil
			}
			e.setState(job, StateFailed)
			manifest.State = StateFailed
			return manifest, fmt.Errorf("verification failed: %w", err)
		}
	}

	e.setState(job, StateCompleted)
	manifest.State = StateCompleted
	e.logger.Info("Job completed",
		zap.String("job_id", job.ID),
		zap.Int("succeeded", manifest.Succeeded),
		zap.Int("failed", manifest.Failed),
		zap.Int("skipped", manifest.Skipped),
	)
	return manifest, nil
}

// discover lists the source and builds the task set. Keys already recorded
// as completed in the checkpoint enter the manifest as skipped. Only latest
// objects are copied; delete markers and old versions stay behind.
func (e *Engine) discover(ctx context.Context, job *Job, completed map[string]struct{}, manifest *Manifest) ([]worker.Task, int64, error) {
	if job.Spec.SingleObject != "" {
		meta, err := e.source.HeadObject(ctx, job.Spec.SourceBucket, job.Spec.SingleObject)
		if err != nil {
			return nil, 0, err
		}
		if _, done := completed[meta.Key]; done {
			manifest.add(ObjectOutcome{Key: meta.Key, Status: "skipped", Bytes: meta.Size})
			return nil, 0, nil
		}
		task := worker.Task{
			Key:         meta.Key,
			Size:        meta.Size,
			ETag:        meta.ETag,
			ContentType: meta.ContentType,
			Metadata:    meta.Metadata,
		}
		return []worker.Task{task}, meta.Size, nil
	}

	var (
		tasks      []worker.Task
		totalBytes int64
		token      string
	)
	for {
		page, err := e.source.ListObjects(ctx, job.Spec.SourceBucket, job.Spec.SourcePrefix, token, false)
		if err != nil {
			return nil, 0, err
		}
		for _, entry := range page.Entries {
			if entry.IsDeleteMarker {
				continue
			}
			if _, done := completed[entry.Key]; done {
				manifest.add(ObjectOutcome{Key: entry.Key, Status: "skipped", Bytes: entry.Size})
				continue
			}
			tasks = append(tasks, worker.Task{
				Key:  entry.Key,
				Size: entry.Size,
				ETag: entry.ETag,
			})
			totalBytes += entry.Size
		}
		if page.NextToken == "" {
			return tasks, totalBytes, nil
		}
		token = page.NextToken
	}
}

// runCopy feeds the task set through the worker pool and folds terminal
// outcomes into the manifest. Returns true when permanent failures exceed
// the job's tolerance, in which case remaining work is cancelled.
func (e *Engine) runCopy(ctx context.Context, job *Job, tasks []worker.Task, manifest *Manifest) bool {
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	limiter := newLimiter(job.Spec)
	pool := worker.NewPool(
		job.Spec.Concurrency,
		worker.Config{
			JobID:          job.ID,
			SourceBucket:   job.Spec.SourceBucket,
			SourcePrefix:   job.Spec.SourcePrefix,
			TargetBucket:   job.Spec.TargetBucket,
			TargetPrefix:   job.Spec.TargetPrefix,
			Retries:        job.Spec.Retries,
			RetryBackoffMs: job.Spec.RetryBackoffMs,
			ChunkSize:      job.Spec.ChunkSize,
			SkipExisting:   job.Spec.SkipExisting,
		},
		e.source, e.target, e.store, e.collector, e.tracker, limiter, e.logger,
	)

	taskCh := make(chan worker.Task, job.Spec.Concurrency*2)
	results := make(chan worker.Outcome, job.Spec.Concurrency*2)

	var wg sync.WaitGroup
	pool.Start(workerCtx, taskCh, results, &wg)

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-workerCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	exceeded := false
	for outcome := range results {
		if outcome.Err != nil && errors.Is(outcome.Err, context.Canceled) {
			// Unfinished by cancellation: stays pending in the checkpoint.
			continue
		}

		row := ObjectOutcome{
			Key:      outcome.Key,
			Status:   string(outcome.Kind),
			Bytes:    outcome.Bytes,
			Attempts: outcome.Attempts,
		}
		if outcome.Err != nil {
			row.Error = outcome.Err.Error()
		}
		manifest.add(row)

		if outcome.Kind == worker.OutcomeFailed && manifest.Failed > job.Spec.FailureTolerance && !exceeded {
			exceeded = true
			e.logger.Error("Failure tolerance exceeded, cancelling remaining work",
				zap.Int("failed", manifest.Failed),
				zap.Int("tolerance", job.Spec.FailureTolerance),
			)
			cancelWorkers()
		}
	}
	return exceeded && ctx.Err() == nil
}

// verify compares size (and etag where comparable) between source and
// target for every copied object. Mismatches are reported per object and do
// not fail the job.
func (e *Engine) verify(ctx context.Context, job *Job, manifest *Manifest) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(job.Spec.Concurrency)

	for i := range manifest.Outcomes {
		outcome := &manifest.Outcomes[i]
		if outcome.Status != "success" {
			continue
		}
		g.Go(func() error {
			markMismatch := func(detail string) {
				mu.Lock()
				defer mu.Unlock()
				outcome.Status = "verify_failed"
				outcome.Error = storage.NewError(storage.KindChecksumMismatch, "engine.verify",
					fmt.Errorf("%s for %s", detail, outcome.Key)).Error()
				manifest.Succeeded--
				manifest.VerifyFailed++
			}

			srcMeta, err := e.source.HeadObject(gctx, job.Spec.SourceBucket, outcome.Key)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				markMismatch("source unreadable during verification")
				return nil
			}
			targetKey := job.Spec.TargetPrefix + strings.TrimPrefix(outcome.Key, job.Spec.SourcePrefix)
			dstMeta, err := e.target.HeadObject(gctx, job.Spec.TargetBucket, targetKey)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				markMismatch("target unreadable during verification")
				return nil
			}

			if srcMeta.Size != dstMeta.Size || !etagsComparablyEqual(srcMeta.ETag, dstMeta.ETag) {
				e.logger.Warn("Verification mismatch",
					zap.String("key", outcome.Key),
					zap.Int64("source_size", srcMeta.Size),
					zap.Int64("target_size", dstMeta.Size),
				)
				markMismatch("source/target mismatch")
			}
			return nil
		})
	}
	return g.Wait()
}

// etagsComparablyEqual compares etags only when both are plain content
// hashes; multipart and cross-provider etags are not comparable and pass.
func etagsComparablyEqual(a, b string) bool {
	a = strings.Trim(a, `"`)
	b = strings.Trim(b, `"`)
	if a == "" || b == "" || strings.Contains(a, "-") || strings.Contains(b, "-") {
		return true
	}
	if len(a) != len(b) {
		return true
	}
	return a == b
}

func (e *Engine) pause(job *Job, manifest *Manifest) *Manifest {
	e.setState(job, StatePaused)
	manifest.State = StatePaused
	e.logger.Info("Job paused", zap.String("job_id", job.ID))
	return manifest
}

func (e *Engine) setState(job *Job, state State) {
	job.State = state
	e.tracker.SetState(string(state))
	if err := e.store.SaveJob(job.record()); err != nil {
		e.logger.Error("Failed to persist job state",
			zap.String("job_id", job.ID),
			zap.String("state", string(state)),
			zap.Error(err))
	}
}

// newLimiter builds the shared token bucket. Burst covers one chunk so a
// worker's WaitN never exceeds the bucket size and waits stay bounded.
func newLimiter(spec JobSpec) *rate.Limiter {
	if spec.BandwidthLimit <= 0 {
		return nil
	}
	burst := int(spec.ChunkSize)
	if burst < 64*1024 {
		burst = 64 * 1024
	}
	if int64(burst) < spec.BandwidthLimit/10 {
		burst = int(spec.BandwidthLimit / 10)
	}
	return rate.NewLimiter(rate.Limit(spec.BandwidthLimit), burst)
}
