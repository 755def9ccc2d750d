package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"artforge/internal/domain"
	"artforge/internal/queue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// JobQueue is the slice of the queue the task service needs. The worker
// side of the queue stays out of reach here on purpose.
type JobQueue interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// TaskService owns the paid submission flow: validate, reserve coins,
// persist the task, hand it to the queue. The coin reservation happens
// before the task row exists, so every visible task has already been paid
// for; each later step compensates the earlier ones on failure.
type TaskService struct {
	tasks     domain.TaskRepository
	ledger    domain.Ledger
	artifacts domain.ArtifactRepository
	settings  domain.Settings
	queue     JobQueue
	logger    zerolog.Logger
}

func NewTaskService(
	tasks domain.TaskRepository,
	ledger domain.Ledger,
	artifacts domain.ArtifactRepository,
	settings domain.Settings,
	q JobQueue,
	logger zerolog.Logger,
) *TaskService {
	return &TaskService{
		tasks:     tasks,
		ledger:    ledger,
		artifacts: artifacts,
		settings:  settings,
		queue:     q,
		logger:    logger,
	}
}

// Submit validates the request, debits the user and enqueues a generation
// job. The returned task is in the pending state.
//
// When the queue rejects the job after coins were taken, the task is
// failed and the reservation credited back before the error surfaces, so
// a queue outage never costs the user coins.
func (s *TaskService) Submit(ctx context.Context, userID string, taskType domain.TaskType, input json.RawMessage) (*domain.Task, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}
	if !taskType.Valid() {
		return nil, fmt.Errorf("%w: unknown task type %q", domain.ErrInvalidInput, taskType)
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if !json.Valid(input) {
		return nil, fmt.Errorf("%w: input is not valid json", domain.ErrInvalidInput)
	}

	cost, err := s.settings.CostCoins(ctx, taskType)
	if err != nil {
		return nil, fmt.Errorf("resolve task cost: %w", err)
	}
	policy, err := s.settings.QueuePolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve queue policy: %w", err)
	}

	if err := s.ledger.Reserve(ctx, userID, cost); err != nil {
		return nil, err
	}

	now := time.Now()
	task := &domain.Task{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      taskType,
		Status:    domain.TaskStatusPending,
		InputJSON: input,
		CostCoins: cost,
		CreatedAt: now,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		if rerr := s.ledger.Refund(ctx, userID, cost); rerr != nil {
			s.logger.Error().Err(rerr).
				Str("user_id", userID).
				Int64("coins", cost).
				Msg("service: refund after create failure, manual credit required")
		}
		return nil, fmt.Errorf("create task: %w", err)
	}

	job := queue.Job{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		Type:          taskType,
		MaxAttempts:   policy.MaxAttempts,
		BaseBackoffMs: policy.BaseBackoff.Milliseconds(),
		EnqueuedAt:    now,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.compensateEnqueue(ctx, task)
		return nil, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	s.logger.Info().
		Str("task_id", task.ID).
		Str("user_id", userID).
		Str("type", string(taskType)).
		Int64("coins", cost).
		Msg("service: task submitted")
	return task, nil
}

// compensateEnqueue settles a task whose job never reached the queue:
// failed state first, refund second, same ordering the worker uses.
func (s *TaskService) compensateEnqueue(ctx context.Context, task *domain.Task) {
	refundDue, err := s.tasks.MarkFailed(ctx, task.ID, "queue unavailable", time.Since(task.CreatedAt))
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("service: mark failed after enqueue failure")
		return
	}
	if !refundDue {
		return
	}
	if err := s.ledger.Refund(ctx, task.UserID, task.CostCoins); err != nil {
		s.logger.Error().Err(err).
			Str("task_id", task.ID).
			Str("user_id", task.UserID).
			Int64("coins", task.CostCoins).
			Msg("service: refund failed, manual credit required")
	}
}

// GetStatus returns the current lifecycle record for a task.
func (s *TaskService) GetStatus(ctx context.Context, taskID string) (*domain.Task, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id required", domain.ErrInvalidInput)
	}
	return s.tasks.GetByID(ctx, taskID)
}

// Balance returns the user's current coin balance.
func (s *TaskService) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}
	return s.ledger.Balance(ctx, userID)
}

// Artifacts lists the user's completed generation results, newest first.
func (s *TaskService) Artifacts(ctx context.Context, userID string, limit, offset int) ([]domain.Artifact, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	return s.artifacts.ListByUser(ctx, userID, limit, offset)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 200:
		return 200
	}
	return limit
}
