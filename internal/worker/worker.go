// Package worker drives queued generation tasks through the external
// provider: a bounded pool of executors consumes the job queue and runs the
// submission/polling state machine for each job it claims.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"artforge/internal/infra"
	"artforge/internal/queue"
)

// Pool consumes the job queue with a fixed number of concurrent executors.
// The bound also caps concurrent load on the external provider.
type Pool struct {
	queue       *queue.Queue
	executor    *Executor
	concurrency int
	logger      infra.Logger
}

// NewPool creates a worker pool. Concurrency values below one fall back to
// a single executor.
func NewPool(q *queue.Queue, executor *Executor, concurrency int, logger infra.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{queue: q, executor: executor, concurrency: concurrency, logger: logger}
}

// Run blocks until ctx is cancelled, then waits for in-flight executors to
// finish their current job.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info().Int("concurrency", p.concurrency).Msg("worker: pool started")

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.runExecutor(ctx, n)
		}(i)
	}
	wg.Wait()
	p.logger.Info().Msg("worker: pool stopped")
}

func (p *Pool) runExecutor(ctx context.Context, n int) {
	logger := p.logger.With().Int("executor", n).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, raw, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrNoJob) || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Error().Err(err).Msg("worker: dequeue failed")
			continue
		}

		p.handle(ctx, logger, *job, raw)
	}
}

// handle runs one delivery of a job and settles it with the queue. An
// execution error means an infrastructure fault: the job is redelivered
// with backoff until its attempt budget runs out, at which point the task
// is force-failed (with refund) so no reservation is left dangling.
func (p *Pool) handle(ctx context.Context, logger infra.Logger, job queue.Job, raw string) {
	logger.Info().Str("task_id", job.TaskID).Int("attempt", job.Attempt).Msg("worker: picked job")

	err := p.executor.Execute(ctx, job)
	if err == nil {
		if ackErr := p.queue.Complete(ctx, job, raw); ackErr != nil {
			logger.Error().Err(ackErr).Str("task_id", job.TaskID).Msg("worker: ack failed")
		}
		return
	}

	if ctx.Err() != nil {
		// Shutdown: leave the delivery unacknowledged so it is picked up
		// again; the executor resumes by provider job id.
		logger.Info().Str("task_id", job.TaskID).Msg("worker: shutdown mid-job")
		return
	}

	logger.Error().Err(err).Str("task_id", job.TaskID).Int("attempt", job.Attempt).Msg("worker: job errored")

	if job.Exhausted() {
		// Out of redeliveries. Settle the task as failed (refunding the
		// reservation) before parking the job in the dead list.
		p.executor.FailTask(ctx, job.TaskID, "worker gave up after repeated errors: "+err.Error())
		if failErr := p.queue.Fail(ctx, job, raw); failErr != nil {
			logger.Error().Err(failErr).Str("task_id", job.TaskID).Msg("worker: dead-letter failed")
		}
		return
	}

	if retryErr := p.queue.Retry(ctx, job, raw); retryErr != nil {
		logger.Error().Err(retryErr).Str("task_id", job.TaskID).Msg("worker: retry failed")
	}
}

// CollectQueueMetrics updates the queue depth gauges every interval until
// ctx is cancelled.
func (p *Pool) CollectQueueMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := p.queue.Stats(ctx)
			if err != nil {
				continue
			}
			queueDepth.WithLabelValues("waiting").Set(float64(stats.Waiting))
			queueDepth.WithLabelValues("active").Set(float64(stats.Active))
			queueDepth.WithLabelValues("completed").Set(float64(stats.Completed))
			queueDepth.WithLabelValues("failed").Set(float64(stats.Failed))
			queueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))
		}
	}
}
