package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"artforge/internal/domain"
	"artforge/internal/provider"
)

// memTasks is an in-memory TaskRepository that mirrors the conditional
// transition semantics of the Postgres implementation.
type memTasks struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task

	// progressLog records every persisted progress value per task so tests
	// can assert monotonicity.
	progressLog map[string][]int
}

func newMemTasks(tasks ...*domain.Task) *memTasks {
	m := &memTasks{tasks: map[string]*domain.Task{}, progressLog: map[string][]int{}}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *memTasks) Create(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memTasks) GetByID(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) List(_ context.Context, _ domain.TaskFilter, _, _ int) ([]domain.Task, error) {
	return nil, nil
}

func (m *memTasks) MarkProcessing(_ context.Context, id string, progress int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != domain.TaskStatusPending {
		return false, nil
	}
	t.Status = domain.TaskStatusProcessing
	t.Progress = progress
	m.progressLog[id] = append(m.progressLog[id], progress)
	return true, nil
}

func (m *memTasks) SetProviderJob(_ context.Context, id, providerJobID string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
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
	m.progressLog[id] = append(m.progressLog[id], t.Progress)
	return nil
}

func (m *memTasks) UpdateProgress(_ context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != domain.TaskStatusProcessing {
		return nil
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	m.progressLog[id] = append(m.progressLog[id], t.Progress)
	return nil
}

func (m *memTasks) MarkCompleted(_ context.Context, id string, output domain.TaskOutput, elapsed time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if t.Status != domain.TaskStatusProcessing {
		return false, nil
	}
	t.Status = domain.TaskStatusCompleted
	t.Progress = 100
	t.OutputJSON, _ = json.Marshal(output)
	t.ProcessingTimeMs = elapsed.Milliseconds()
	now := time.Now()
	t.CompletedAt = &now
	m.progressLog[id] = append(m.progressLog[id], 100)
	return true, nil
}

func (m *memTasks) MarkFailed(_ context.Context, id, reason string, elapsed time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if t.Status.Terminal() {
		return false, nil
	}
	refundDue := !t.Refunded
	t.Status = domain.TaskStatusFailed
	t.ErrorMessage = reason
	t.Refunded = true
	t.ProcessingTimeMs = elapsed.Milliseconds()
	now := time.Now()
	t.CompletedAt = &now
	return refundDue, nil
}

func (m *memTasks) ResetForRetry(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != domain.TaskStatusFailed {
		return false, nil
	}
	t.Status = domain.TaskStatusPending
	t.Progress = 0
	t.ErrorMessage = ""
	t.ProviderJobID = ""
	t.OutputJSON = nil
	return true, nil
}

// cancel force-fails a task the way AdminControl does, bypassing the worker.
func (m *memTasks) cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	t.Status = domain.TaskStatusFailed
	t.ErrorMessage = "Cancelled"
	t.Refunded = true
}

// memLedger is an in-memory Ledger with atomic reserve semantics.
type memLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	works    map[string]int64
	refunds  []int64
}

func newMemLedger(balances map[string]int64) *memLedger {
	if balances == nil {
		balances = map[string]int64{}
	}
	return &memLedger{balances: balances, works: map[string]int64{}}
}

func (l *memLedger) Reserve(_ context.Context, userID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if balance < amount {
		return domain.ErrInsufficientCoins
	}
	l.balances[userID] = balance - amount
	return nil
}

func (l *memLedger) Refund(_ context.Context, userID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	l.refunds = append(l.refunds, amount)
	return nil
}

func (l *memLedger) Credit(_ context.Context, userID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	return nil
}

func (l *memLedger) Balance(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return balance, nil
}

func (l *memLedger) IncrementWorks(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.works[userID]++
	return nil
}

func (l *memLedger) refundCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.refunds)
}

// memArtifacts collects created artifacts.
type memArtifacts struct {
	mu    sync.Mutex
	items []domain.Artifact
}

func (a *memArtifacts) Create(_ context.Context, artifact *domain.Artifact) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, *artifact)
	return nil
}

func (a *memArtifacts) ListByUser(_ context.Context, userID string, _, _ int) ([]domain.Artifact, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.Artifact
	for _, item := range a.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, nil
}

// staticSettings serves fixed policies.
type staticSettings struct {
	costs map[domain.TaskType]int64
	queue domain.QueuePolicy
	poll  domain.PollPolicy
}

func defaultSettings() *staticSettings {
	return &staticSettings{
		costs: map[domain.TaskType]int64{
			domain.TaskTypeImageUpscale:  2,
			domain.TaskTypeFaceSwap:      5,
			domain.TaskTypeVideoGenerate: 10,
		},
		queue: domain.QueuePolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond},
		poll:  domain.PollPolicy{Interval: time.Millisecond, MaxAttempts: 5},
	}
}

func (s *staticSettings) CostCoins(_ context.Context, taskType domain.TaskType) (int64, error) {
	cost, ok := s.costs[taskType]
	if !ok {
		return 0, domain.ErrInvalidInput
	}
	return cost, nil
}

func (s *staticSettings) QueuePolicy(_ context.Context) (domain.QueuePolicy, error) {
	return s.queue, nil
}

func (s *staticSettings) PollPolicy(_ context.Context) (domain.PollPolicy, error) {
	return s.poll, nil
}

// scriptedProvider returns canned poll results in order, then repeats the
// last one. submitErr makes Submit fail; pollErr fails polling on the given
// (1-based) call.
type scriptedProvider struct {
	mu          sync.Mutex
	jobID       string
	submitErr   error
	submitCalls int
	pollErr     error
	pollErrOn   int
	results     []provider.PollResult
	pollCalls   int
	onPoll      func(call int)
}

func (p *scriptedProvider) Submit(_ context.Context, _ domain.TaskType, _ json.RawMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitCalls++
	if p.submitErr != nil {
		return "", p.submitErr
	}
	if p.jobID == "" {
		p.jobID = "prov-1"
	}
	return p.jobID, nil
}

func (p *scriptedProvider) Poll(_ context.Context, _ string) (provider.PollResult, error) {
	p.mu.Lock()
	p.pollCalls++
	call := p.pollCalls
	onPoll := p.onPoll
	p.mu.Unlock()

	if onPoll != nil {
		onPoll(call)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pollErr != nil && call >= p.pollErrOn {
		return provider.PollResult{}, p.pollErr
	}
	if len(p.results) == 0 {
		return provider.PollResult{Status: provider.JobStatusProcessing}, nil
	}
	idx := call - 1
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	return p.results[idx], nil
}

// fakeClock advances instantly instead of sleeping.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

var errBoom = errors.New("boom")
