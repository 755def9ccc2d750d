package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"artforge/internal/domain"
	"artforge/internal/queue"
)

type memTasks struct {
	mu    sync.Mutex
	items map[string]*domain.Task
}

func newMemTasks() *memTasks {
	return &memTasks{items: map[string]*domain.Task{}}
}

func (m *memTasks) put(t *domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.items[t.ID] = &cp
}

func (m *memTasks) get(id string) domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

func (m *memTasks) Create(_ context.Context, task *domain.Task) error {
	m.put(task)
	return nil
}

func (m *memTasks) GetByID(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) List(_ context.Context, filter domain.TaskFilter, limit, offset int) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Task
	for _, t := range m.items {
		if filter.UserID != "" && t.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *memTasks) MarkProcessing(_ context.Context, id string, progress int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok || t.Status != domain.TaskStatusPending {
		return false, nil
	}
	t.Status = domain.TaskStatusProcessing
	t.Progress = progress
	return true, nil
}

func (m *memTasks) SetProviderJob(_ context.Context, id, providerJobID string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status != domain.TaskStatusProcessing {
		return nil
	}
	t.ProviderJobID = providerJobID
	if progress > t.Progress {
		t.Progress = progress
	}
	return nil
}

func (m *memTasks) UpdateProgress(_ context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status == domain.TaskStatusProcessing && progress > t.Progress {
		t.Progress = progress
	}
	return nil
}

func (m *memTasks) MarkCompleted(_ context.Context, id string, output domain.TaskOutput, elapsed time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if t.Status != domain.TaskStatusProcessing {
		return false, nil
	}
	now := time.Now()
	t.Status = domain.TaskStatusCompleted
	t.Progress = 100
	t.OutputJSON = []byte(fmt.Sprintf(`{"result_url":%q}`, output.ResultURL))
	t.ProcessingTimeMs = elapsed.Milliseconds()
	t.CompletedAt = &now
	return true, nil
}

func (m *memTasks) MarkFailed(_ context.Context, id, reason string, elapsed time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if t.Status.Terminal() {
		return false, nil
	}
	now := time.Now()
	t.Status = domain.TaskStatusFailed
	t.ErrorMessage = reason
	t.ProcessingTimeMs = elapsed.Milliseconds()
	t.CompletedAt = &now
	refundDue := !t.Refunded
	t.Refunded = true
	return refundDue, nil
}

func (m *memTasks) ResetForRetry(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok || t.Status != domain.TaskStatusFailed {
		return false, nil
	}
	t.Status = domain.TaskStatusPending
	t.Progress = 0
	t.ErrorMessage = ""
	t.ProviderJobID = ""
	t.OutputJSON = nil
	t.CompletedAt = nil
	return true, nil
}

type memLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	refunds  int
}

func newMemLedger(balances map[string]int64) *memLedger {
	if balances == nil {
		balances = map[string]int64{}
	}
	return &memLedger{balances: balances}
}

func (m *memLedger) Reserve(_ context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if bal < amount {
		return domain.ErrInsufficientCoins
	}
	m.balances[userID] = bal - amount
	return nil
}

func (m *memLedger) Refund(ctx context.Context, userID string, amount int64) error {
	m.mu.Lock()
	m.refunds++
	m.mu.Unlock()
	return m.Credit(ctx, userID, amount)
}

func (m *memLedger) Credit(_ context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	return nil
}

func (m *memLedger) Balance(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return bal, nil
}

func (m *memLedger) IncrementWorks(_ context.Context, _ string) error { return nil }

func (m *memLedger) balance(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

type memArtifacts struct {
	mu    sync.Mutex
	items []domain.Artifact
}

func (m *memArtifacts) Create(_ context.Context, a *domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, *a)
	return nil
}

func (m *memArtifacts) ListByUser(_ context.Context, userID string, _, _ int) ([]domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Artifact
	for _, a := range m.items {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// fakeQueue records enqueued jobs and can be told to reject them.
type fakeQueue struct {
	mu         sync.Mutex
	jobs       []queue.Job
	enqueueErr error
	stats      queue.Stats
	cleaned    int64
}

func (f *fakeQueue) Enqueue(_ context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) Stats(_ context.Context) (queue.Stats, error) {
	return f.stats, nil
}

func (f *fakeQueue) Clean(_ context.Context, _ time.Duration, _ string) (int64, error) {
	return f.cleaned, nil
}

func (f *fakeQueue) Inspect(_ context.Context, _ string, limit int64) ([]queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs := append([]queue.Job(nil), f.jobs...)
	if int64(len(jobs)) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (f *fakeQueue) enqueued() []queue.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Job(nil), f.jobs...)
}

type staticSettings struct {
	costs       map[domain.TaskType]int64
	queuePolicy domain.QueuePolicy
	pollPolicy  domain.PollPolicy
}

func defaultSettings() *staticSettings {
	return &staticSettings{
		costs: map[domain.TaskType]int64{
			domain.TaskTypeVideoGenerate: 10,
			domain.TaskTypeFaceSwap:      5,
			domain.TaskTypeImageUpscale:  2,
			domain.TaskTypeImageGenerate: 3,
		},
		queuePolicy: domain.QueuePolicy{MaxAttempts: 3, BaseBackoff: time.Second},
		pollPolicy:  domain.PollPolicy{Interval: time.Millisecond, MaxAttempts: 5},
	}
}

func (s *staticSettings) CostCoins(_ context.Context, taskType domain.TaskType) (int64, error) {
	cost, ok := s.costs[taskType]
	if !ok {
		return 0, fmt.Errorf("no cost configured for %s", taskType)
	}
	return cost, nil
}

func (s *staticSettings) QueuePolicy(_ context.Context) (domain.QueuePolicy, error) {
	return s.queuePolicy, nil
}

func (s *staticSettings) PollPolicy(_ context.Context) (domain.PollPolicy, error) {
	return s.pollPolicy, nil
}
