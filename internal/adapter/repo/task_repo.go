package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"artforge/internal/domain"
)

// TaskRepositoryPG implements domain.TaskRepository.
//
// Every guarded transition is a single conditional UPDATE so the repository
// stays correct when the queue redelivers a job or an operator races the
// worker: whichever side loses the condition simply sees zero rows affected.
type TaskRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new task repository backed by PostgreSQL.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepositoryPG {
	return &TaskRepositoryPG{pool: pool}
}

// Create inserts a new task record.
func (r *TaskRepositoryPG) Create(ctx context.Context, task *domain.Task) error {
	query := `
INSERT INTO tasks (id, user_id, type, status, progress, input_json, cost_coins)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.UserID,
		task.Type,
		task.Status,
		task.Progress,
		task.InputJSON,
		task.CostCoins,
	)
	return err
}

// GetByID fetches a task by its identifier.
func (r *TaskRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	query := taskColumns + `
FROM tasks
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

// List returns tasks matching the filter, newest first.
func (r *TaskRepositoryPG) List(ctx context.Context, filter domain.TaskFilter, limit, offset int) ([]domain.Task, error) {
	query := taskColumns + `
FROM tasks
WHERE ($1 = '' OR user_id::text = $1)
  AND ($2 = '' OR type = $2)
  AND ($3 = '' OR status = $3)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5;
`
	rows, err := r.pool.Query(ctx, query, filter.UserID, string(filter.Type), string(filter.Status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// MarkProcessing transitions pending -> processing. Returns false when the
// task has already left pending, e.g. after an operator cancel.
func (r *TaskRepositoryPG) MarkProcessing(ctx context.Context, id string, progress int) (bool, error) {
	query := `
UPDATE tasks
SET status = 'processing', progress = $2
WHERE id = $1 AND status = 'pending';
`
	tag, err := r.pool.Exec(ctx, query, id, progress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetProviderJob records the external job id after a successful submission.
// The status guard keeps a task cancelled right after claiming from being
// written to again; the poll loop's recheck handles the exit.
func (r *TaskRepositoryPG) SetProviderJob(ctx context.Context, id, providerJobID string, progress int) error {
	query := `
UPDATE tasks
SET provider_job_id = $2, progress = GREATEST(progress, $3)
WHERE id = $1 AND status = 'processing';
`
	_, err := r.pool.Exec(ctx, query, id, providerJobID, progress)
	return err
}

// UpdateProgress persists a new progress value. GREATEST keeps progress
// monotonically non-decreasing even if provider reports go backwards, and
// the status guard stops a cancelled task from moving again.
func (r *TaskRepositoryPG) UpdateProgress(ctx context.Context, id string, progress int) error {
	query := `
UPDATE tasks
SET progress = GREATEST(progress, $2)
WHERE id = $1 AND status = 'processing';
`
	_, err := r.pool.Exec(ctx, query, id, progress)
	return err
}

// MarkCompleted records the terminal completed state with output. The
// status guard means a task cancelled mid-poll stays failed; the returned
// flag tells the caller whether the transition actually happened.
func (r *TaskRepositoryPG) MarkCompleted(ctx context.Context, id string, output domain.TaskOutput, elapsed time.Duration) (bool, error) {
	query := `
UPDATE tasks
SET status = 'completed',
    progress = 100,
    output_json = jsonb_build_object('result_url', $2::text, 'thumbnail_url', $3::text),
    processing_time_ms = $4,
    completed_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, query, id, output.ResultURL, output.ThumbnailURL, elapsed.Milliseconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records the terminal failed state and flips the refunded flag.
// The returned bool is the refund-due signal: true only when this call both
// performed the transition and claimed the one refund the task may ever
// have. Reading the old flag value through a self-join keeps the claim and
// the transition in one atomic statement.
func (r *TaskRepositoryPG) MarkFailed(ctx context.Context, id, reason string, elapsed time.Duration) (bool, error) {
	query := `
UPDATE tasks t
SET status = 'failed',
    error_message = $2,
    processing_time_ms = $3,
    completed_at = NOW(),
    refunded = TRUE
FROM (SELECT id, refunded FROM tasks WHERE id = $1 FOR UPDATE) old
WHERE t.id = old.id AND t.status NOT IN ('failed', 'completed')
RETURNING old.refunded;
`
	var alreadyRefunded bool
	err := r.pool.QueryRow(ctx, query, id, reason, elapsed.Milliseconds()).Scan(&alreadyRefunded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already terminal; nothing transitioned, nothing to refund.
			return false, nil
		}
		return false, err
	}
	return !alreadyRefunded, nil
}

// ResetForRetry moves failed -> pending for an operator retry. The provider
// job id is cleared so the new run submits afresh; the coin reservation is
// left untouched.
func (r *TaskRepositoryPG) ResetForRetry(ctx context.Context, id string) (bool, error) {
	query := `
UPDATE tasks
SET status = 'pending',
    progress = 0,
    error_message = '',
    provider_job_id = '',
    output_json = NULL,
    processing_time_ms = 0,
    completed_at = NULL
WHERE id = $1 AND status = 'failed';
`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const taskColumns = `
SELECT id, user_id, type, status, progress, input_json, output_json, cost_coins,
       provider_job_id, error_message, refunded, processing_time_ms, created_at, completed_at`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Type,
		&task.Status,
		&task.Progress,
		&task.InputJSON,
		&task.OutputJSON,
		&task.CostCoins,
		&task.ProviderJobID,
		&task.ErrorMessage,
		&task.Refunded,
		&task.ProcessingTimeMs,
		&task.CreatedAt,
		&task.CompletedAt,
	); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &task, nil
}
