package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bucketview/internal/checkpoint"
	"bucketview/internal/metrics"
	"bucketview/internal/progress"
	"bucketview/internal/storage"
)

// Pool runs a fixed number of workers pulling tasks from a bounded queue.
type Pool struct {
	size       int
	config     Config
	source     storage.Backend
	target     storage.Backend
	checkpoint checkpoint.Store
	collector  *metrics.Collector
	tracker    *progress.Tracker
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewPool creates a worker pool of the given size. The limiter is shared
// across all workers so the bandwidth cap is global, and may be nil for
// unlimited throughput.
func NewPool(
	size int,
	config Config,
	source storage.Backend,
	target storage.Backend,
	checkpointStore checkpoint.Store,
	collector *metrics.Collector,
	tracker *progress.Tracker,
	limiter *rate.Limiter,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		size:       size,
		config:     config,
		source:     source,
		target:     target,
		checkpoint: checkpointStore,
		collector:  collector,
		tracker:    tracker,
		limiter:    limiter,
		logger:     logger,
	}
}

// Start launches the workers. Each terminal task outcome is sent to results
// before the task's checkpoint write; the caller owns draining results and
// closing tasks.
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, results chan<- Outcome, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, results, wg)
	}
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, results chan<- Outcome, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	processor := &TaskProcessor{
		config:     p.config,
		source:     p.source,
		target:     p.target,
		checkpoint: p.checkpoint,
		collector:  p.collector,
		tracker:    p.tracker,
		limiter:    p.limiter,
		logger:     logger,
	}

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				logger.Debug("Worker finished - no more tasks")
				return
			}

			outcome := processor.Process(ctx, task)

			select {
			case results <- outcome:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			logger.Debug("Worker stopped - context cancelled")
			return
		}
	}
}
