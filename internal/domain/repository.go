package domain

import (
	"context"
	"time"
)

// TaskRepository is the durable record of a task's lifecycle. Mutating
// methods that guard invariants (MarkProcessing, MarkFailed, ResetForRetry)
// are conditional updates: they report whether the transition happened so
// callers stay idempotent under queue redelivery.
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	GetByID(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, filter TaskFilter, limit, offset int) ([]Task, error)

	// MarkProcessing transitions pending -> processing and sets the initial
	// progress. Returns false when the task is no longer pending.
	MarkProcessing(ctx context.Context, id string, progress int) (bool, error)

	// SetProviderJob records the external job id after a successful submit.
	SetProviderJob(ctx context.Context, id, providerJobID string, progress int) error

	// UpdateProgress persists a new progress value, never lowering it.
	UpdateProgress(ctx context.Context, id string, progress int) error

	// MarkCompleted transitions processing -> completed with output.
	// Returns false when the task is no longer processing, so callers
	// know the completion side effects must not run.
	MarkCompleted(ctx context.Context, id string, output TaskOutput, elapsed time.Duration) (bool, error)

	// MarkFailed records the terminal failed state. The returned flag is
	// true exactly when this call performed the transition AND the
	// reservation has never been refunded before; it is the caller's
	// signal to credit the coins back. A task that was refunded, retried
	// by an operator and failed again transitions without a second
	// refund.
	MarkFailed(ctx context.Context, id, reason string, elapsed time.Duration) (bool, error)

	// ResetForRetry moves failed -> pending for an operator retry. Returns
	// false when the task is not in a failed state.
	ResetForRetry(ctx context.Context, id string) (bool, error)
}

// Ledger owns the user coin balance. Reserve is atomic per user: two
// concurrent reservations that together exceed the balance never both
// succeed.
type Ledger interface {
	Reserve(ctx context.Context, userID string, amount int64) error
	Refund(ctx context.Context, userID string, amount int64) error
	Credit(ctx context.Context, userID string, amount int64) error
	Balance(ctx context.Context, userID string) (int64, error)
	IncrementWorks(ctx context.Context, userID string) error
}

// ArtifactRepository persists completed generation results for the user
// library.
type ArtifactRepository interface {
	Create(ctx context.Context, artifact *Artifact) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Artifact, error)
}

// Settings holds the hot-reloadable operational knobs. Implementations read
// from the settings store and may cache briefly; callers fetch per use so
// changes apply without restarts.
type Settings interface {
	CostCoins(ctx context.Context, taskType TaskType) (int64, error)
	QueuePolicy(ctx context.Context) (QueuePolicy, error)
	PollPolicy(ctx context.Context) (PollPolicy, error)
}

// QueuePolicy bounds queue-level redelivery of a job.
type QueuePolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// PollPolicy bounds the worker's provider polling loop.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}
