package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"artforge/internal/domain"
	"artforge/internal/infra"
	"artforge/internal/provider"
	"artforge/internal/queue"
)

// Progress checkpoints. The band between progressSubmitted and
// progressPollCap belongs to the polling loop; 90-100 is reserved for the
// final completed persist so observers never see 100 on a running task.
const (
	progressStarted   = 10
	progressSubmitted = 30
	progressPollCap   = 89
)

// Executor runs the per-job state machine: load the task, submit it to the
// provider (or resume by provider job id after a redelivery), poll to a
// terminal state, then persist the outcome and settle the coin reservation.
//
// One executor owns one job for its whole lifetime. Errors returned from
// Execute are infrastructure faults the queue should redeliver; every
// generation-level outcome, including failure, is absorbed into the task
// record and reported as handled.
type Executor struct {
	tasks     domain.TaskRepository
	ledger    domain.Ledger
	artifacts domain.ArtifactRepository
	settings  domain.Settings
	provider  provider.Provider
	clock     Clock
	logger    infra.Logger
}

// NewExecutor wires an executor from its collaborators.
func NewExecutor(
	tasks domain.TaskRepository,
	ledger domain.Ledger,
	artifacts domain.ArtifactRepository,
	settings domain.Settings,
	prov provider.Provider,
	clock Clock,
	logger infra.Logger,
) *Executor {
	return &Executor{
		tasks:     tasks,
		ledger:    ledger,
		artifacts: artifacts,
		settings:  settings,
		provider:  prov,
		clock:     clock,
		logger:    logger,
	}
}

// Execute drives one job to completion.
func (e *Executor) Execute(ctx context.Context, job queue.Job) error {
	task, err := e.tasks.GetByID(ctx, job.TaskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", job.TaskID, err)
	}

	if task.Status.Terminal() {
		// Redelivery of an already-settled job; nothing to do.
		e.logger.Debug().Str("task_id", task.ID).Str("status", string(task.Status)).Msg("worker: task already terminal")
		return nil
	}

	// Redelivered after a crash mid-poll: the provider already has this
	// job, so resume polling instead of submitting a second time.
	if task.ProviderJobID != "" {
		return e.pollToCompletion(ctx, task, task.ProviderJobID)
	}

	if task.Status != domain.TaskStatusPending {
		// Processing but never submitted: a crash landed between the
		// processing transition and the submit call. Submission is safe to
		// redo because no provider job id was ever recorded.
		e.logger.Warn().Str("task_id", task.ID).Msg("worker: resuming unsubmitted task")
	} else {
		ok, err := e.tasks.MarkProcessing(ctx, task.ID, progressStarted)
		if err != nil {
			return fmt.Errorf("mark processing %s: %w", task.ID, err)
		}
		if !ok {
			// Lost the race with an operator cancel; no side effects.
			e.logger.Info().Str("task_id", task.ID).Msg("worker: task no longer pending, skipping")
			return nil
		}
	}

	providerJobID, err := e.provider.Submit(ctx, task.Type, task.InputJSON)
	if err != nil {
		e.failTask(ctx, task, fmt.Sprintf("submission failed: %v", err))
		return nil
	}

	if err := e.tasks.SetProviderJob(ctx, task.ID, providerJobID, progressSubmitted); err != nil {
		// The provider job exists but we could not record it. Failing the
		// task here keeps the ledger consistent; the orphaned provider job
		// simply expires vendor-side.
		e.failTask(ctx, task, fmt.Sprintf("persist provider job: %v", err))
		return nil
	}

	return e.pollToCompletion(ctx, task, providerJobID)
}

// pollToCompletion loops on Provider.Poll until a terminal state or the poll
// budget runs out.
func (e *Executor) pollToCompletion(ctx context.Context, task *domain.Task, providerJobID string) error {
	policy, err := e.settings.PollPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load poll policy: %w", err)
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		// Cooperative cancellation: an operator may have force-failed the
		// task since the last iteration. Their transition already settled
		// the refund, so just stop.
		current, err := e.tasks.GetByID(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("recheck task %s: %w", task.ID, err)
		}
		if current.Status.Terminal() {
			e.logger.Info().Str("task_id", task.ID).Str("status", string(current.Status)).Msg("worker: task cancelled externally, aborting poll")
			return nil
		}

		result, err := e.provider.Poll(ctx, providerJobID)
		if err != nil {
			e.failTask(ctx, task, fmt.Sprintf("poll failed: %v", err))
			return nil
		}

		switch result.Status {
		case provider.JobStatusCompleted:
			return e.completeTask(ctx, task, result)
		case provider.JobStatusFailed:
			reason := result.Error
			if reason == "" {
				reason = "generation failed"
			}
			e.failTask(ctx, task, reason)
			return nil
		}

		if err := e.tasks.UpdateProgress(ctx, task.ID, pollProgress(result.Progress, attempt, policy.MaxAttempts)); err != nil {
			e.logger.Warn().Err(err).Str("task_id", task.ID).Msg("worker: progress update failed")
		}

		if err := e.clock.Sleep(ctx, policy.Interval); err != nil {
			// Shutdown mid-poll. The job stays unacknowledged and is
			// resumed by provider job id on redelivery.
			return err
		}
	}

	e.failTask(ctx, task, fmt.Sprintf("generation timed out after %d polls", policy.MaxAttempts))
	return nil
}

func (e *Executor) completeTask(ctx context.Context, task *domain.Task, result provider.PollResult) error {
	elapsed := e.clock.Now().Sub(task.CreatedAt)
	output := domain.TaskOutput{ResultURL: result.ResultURL, ThumbnailURL: result.ThumbnailURL}
	ok, err := e.tasks.MarkCompleted(ctx, task.ID, output, elapsed)
	if err != nil {
		return fmt.Errorf("mark completed %s: %w", task.ID, err)
	}
	if !ok {
		// An operator cancel won the race during the last poll. The task is
		// failed and refunded; recording a deliverable on top of that would
		// hand the user both the result and the coins.
		e.logger.Info().Str("task_id", task.ID).Msg("worker: completion lost to cancel, discarding result")
		return nil
	}

	// The library record and the works counter are derived data; losing
	// either does not affect the money path, so failures only log.
	artifact := &domain.Artifact{
		ID:           uuid.NewString(),
		UserID:       task.UserID,
		TaskID:       task.ID,
		Type:         task.Type,
		ResultURL:    result.ResultURL,
		ThumbnailURL: result.ThumbnailURL,
	}
	if err := e.artifacts.Create(ctx, artifact); err != nil {
		e.logger.Error().Err(err).Str("task_id", task.ID).Msg("worker: artifact insert failed")
	}
	if err := e.ledger.IncrementWorks(ctx, task.UserID); err != nil {
		e.logger.Error().Err(err).Str("user_id", task.UserID).Msg("worker: works counter failed")
	}

	tasksProcessed.WithLabelValues("completed", string(task.Type)).Inc()
	taskDuration.WithLabelValues(string(task.Type)).Observe(elapsed.Seconds())
	e.logger.Info().Str("task_id", task.ID).Dur("elapsed", elapsed).Msg("worker: task completed")
	return nil
}

// failTask records the failure and then, and only then, refunds the
// reservation. The ordering is load-bearing: refunding before the failed
// state is durable would double-refund if we crashed in between, because a
// redelivered job would fail the task again.
func (e *Executor) failTask(ctx context.Context, task *domain.Task, reason string) {
	elapsed := e.clock.Now().Sub(task.CreatedAt)
	refundDue, err := e.tasks.MarkFailed(ctx, task.ID, reason, elapsed)
	if err != nil {
		e.logger.Error().Err(err).Str("task_id", task.ID).Msg("worker: mark failed errored")
		return
	}
	if !refundDue {
		// Either another path (operator cancel, earlier delivery) already
		// performed the transition and its refund, or this task was
		// retried after a refund. Crediting again would double-pay.
		e.logger.Warn().Str("task_id", task.ID).Str("reason", reason).Msg("worker: task failed, refund already settled")
		return
	}

	if err := e.ledger.Refund(ctx, task.UserID, task.CostCoins); err != nil {
		refundFailures.Inc()
		e.logger.Error().Err(err).
			Str("task_id", task.ID).
			Str("user_id", task.UserID).
			Int64("coins", task.CostCoins).
			Msg("worker: refund failed, manual credit required")
	}

	tasksProcessed.WithLabelValues("failed", string(task.Type)).Inc()
	e.logger.Warn().Str("task_id", task.ID).Str("reason", reason).Msg("worker: task failed")
}

// FailTask exposes the failed+refund transition for the pool's last-resort
// handling of jobs that exhausted their redelivery budget.
func (e *Executor) FailTask(ctx context.Context, taskID, reason string) {
	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		e.logger.Error().Err(err).Str("task_id", taskID).Msg("worker: load task for terminal failure")
		return
	}
	if task.Status.Terminal() {
		return
	}
	e.failTask(ctx, task, reason)
}

// pollProgress maps provider progress into the polling band. When the
// vendor reports nothing useful it degrades to a ramp over the poll budget.
// Capped below 90 so the final persist owns the top of the range; the
// repository guarantees monotonicity.
func pollProgress(reported, attempt, maxAttempts int) int {
	base := reported
	if base <= 0 && maxAttempts > 0 {
		base = attempt * 100 / maxAttempts
	}
	p := progressSubmitted + base*(progressPollCap-progressSubmitted)/100
	if p > progressPollCap {
		p = progressPollCap
	}
	if p < progressSubmitted {
		p = progressSubmitted
	}
	return p
}
