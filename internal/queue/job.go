package queue

import (
	"time"

	"artforge/internal/domain"
)

// Job is the queue-level envelope carrying a task's work to a worker. It is
// immutable once enqueued except for the retry bookkeeping (Attempt,
// FinishedAt) maintained by the queue itself.
//
// Queue retries cover queue and submission faults only; generation-level
// failures run the worker state machine once and surface as a failed task,
// not a redelivery.
type Job struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id"`
	Type          domain.TaskType `json:"type"`
	Attempt       int             `json:"attempt"`
	MaxAttempts   int             `json:"max_attempts"`
	BaseBackoffMs int64           `json:"base_backoff_ms"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	FinishedAt    time.Time       `json:"finished_at,omitempty"`
}

// Backoff returns the delay before the next redelivery attempt. The first
// redelivery waits the configured base, doubling on each one after that.
func (j Job) Backoff() time.Duration {
	base := time.Duration(j.BaseBackoffMs) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}
	shift := j.Attempt - 1
	if shift < 0 {
		shift = 0
	}
	return base << shift
}

// Exhausted reports whether the job has used up its redelivery budget.
func (j Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}
