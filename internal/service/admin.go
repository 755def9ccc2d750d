package service

import (
	"context"
	"fmt"
	"time"

	"artforge/internal/domain"
	"artforge/internal/queue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AdminQueue extends the submit-side queue with the operator surface.
type AdminQueue interface {
	JobQueue
	Stats(ctx context.Context) (queue.Stats, error)
	Clean(ctx context.Context, olderThan time.Duration, state string) (int64, error)
	Inspect(ctx context.Context, state string, limit int64) ([]queue.Job, error)
}

// AdminControl is the operator surface: listing, retrying and cancelling
// tasks plus queue introspection. Retry and Cancel go through the same
// conditional repository transitions the worker uses, so they compose
// safely with in-flight deliveries.
type AdminControl struct {
	tasks    domain.TaskRepository
	ledger   domain.Ledger
	settings domain.Settings
	queue    AdminQueue
	logger   zerolog.Logger
}

func NewAdminControl(
	tasks domain.TaskRepository,
	ledger domain.Ledger,
	settings domain.Settings,
	q AdminQueue,
	logger zerolog.Logger,
) *AdminControl {
	return &AdminControl{
		tasks:    tasks,
		ledger:   ledger,
		settings: settings,
		queue:    q,
		logger:   logger,
	}
}

// ListTasks returns tasks matching the filter, newest first.
func (a *AdminControl) ListTasks(ctx context.Context, filter domain.TaskFilter, limit, offset int) ([]domain.Task, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	return a.tasks.List(ctx, filter, limit, offset)
}

// QueueStats reports current per-state queue depths.
func (a *AdminControl) QueueStats(ctx context.Context) (queue.Stats, error) {
	return a.queue.Stats(ctx)
}

// InspectQueue returns up to limit jobs waiting in the given queue state.
func (a *AdminControl) InspectQueue(ctx context.Context, state string, limit int64) ([]queue.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return a.queue.Inspect(ctx, state, limit)
}

// Retry requeues a failed task with a fresh delivery budget. Coins do not
// move: the failure that put the task here already refunded the
// reservation, and the repository remembers that across the retry.
func (a *AdminControl) Retry(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := a.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ok, err := a.tasks.ResetForRetry(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("reset task for retry: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: task is %s", domain.ErrTaskNotRetryable, task.Status)
	}

	policy, err := a.settings.QueuePolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve queue policy: %w", err)
	}
	job := queue.Job{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		Type:          task.Type,
		MaxAttempts:   policy.MaxAttempts,
		BaseBackoffMs: policy.BaseBackoff.Milliseconds(),
		EnqueuedAt:    time.Now(),
	}
	if err := a.queue.Enqueue(ctx, job); err != nil {
		// Put the task back where the operator found it. The refunded
		// marker survives the round trip, so no coins move here either.
		if _, mferr := a.tasks.MarkFailed(ctx, task.ID, "queue unavailable", time.Since(task.CreatedAt)); mferr != nil {
			a.logger.Error().Err(mferr).Str("task_id", task.ID).Msg("admin: restore failed state after enqueue failure")
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	a.logger.Info().Str("task_id", task.ID).Msg("admin: task requeued")
	task.Status = domain.TaskStatusPending
	task.Progress = 0
	task.ErrorMessage = ""
	task.ProviderJobID = ""
	return task, nil
}

// Cancel fails a non-terminal task and refunds the reservation if it is
// still owed. The worker notices the terminal state on its next poll
// iteration and stops without a second refund.
func (a *AdminControl) Cancel(ctx context.Context, taskID string) error {
	task, err := a.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("%w: task is %s", domain.ErrTaskNotCancelable, task.Status)
	}

	refundDue, err := a.tasks.MarkFailed(ctx, taskID, "Cancelled", time.Since(task.CreatedAt))
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if refundDue {
		if err := a.ledger.Refund(ctx, task.UserID, task.CostCoins); err != nil {
			a.logger.Error().Err(err).
				Str("task_id", task.ID).
				Str("user_id", task.UserID).
				Int64("coins", task.CostCoins).
				Msg("admin: refund failed, manual credit required")
		}
	}
	a.logger.Info().Str("task_id", task.ID).Bool("refunded", refundDue).Msg("admin: task cancelled")
	return nil
}

// PurgeQueue removes finished jobs older than the retention window from
// the given queue state and returns how many were dropped.
func (a *AdminControl) PurgeQueue(ctx context.Context, state string, olderThan time.Duration) (int64, error) {
	n, err := a.queue.Clean(ctx, olderThan, state)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.logger.Info().Int64("removed", n).Str("state", state).Msg("admin: queue purged")
	}
	return n, nil
}

// Credit tops up a user's balance, for support adjustments.
func (a *AdminControl) Credit(ctx context.Context, userID string, amount int64) error {
	if userID == "" || amount <= 0 {
		return fmt.Errorf("%w: user id and positive amount required", domain.ErrInvalidInput)
	}
	return a.ledger.Credit(ctx, userID, amount)
}
