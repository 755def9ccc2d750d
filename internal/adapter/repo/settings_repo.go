package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"artforge/internal/domain"
)

// settingsCacheTTL bounds how stale a hot-reloadable knob may be. Operators
// edit the settings table and the change takes effect within this window.
const settingsCacheTTL = 15 * time.Second

// SettingsPG implements domain.Settings over the settings table with a
// short-lived in-process cache per key.
type SettingsPG struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	cache map[string]cachedSetting
}

type cachedSetting struct {
	raw       []byte
	fetchedAt time.Time
}

// NewSettings creates a settings store backed by PostgreSQL.
func NewSettings(pool *pgxpool.Pool) *SettingsPG {
	return &SettingsPG{pool: pool, cache: make(map[string]cachedSetting)}
}

// CostCoins resolves the per-type coin cost from the task_costs table entry.
func (s *SettingsPG) CostCoins(ctx context.Context, taskType domain.TaskType) (int64, error) {
	raw, err := s.get(ctx, "task_costs")
	if err != nil {
		return 0, err
	}
	var costs map[string]int64
	if err := json.Unmarshal(raw, &costs); err != nil {
		return 0, fmt.Errorf("decode task_costs: %w", err)
	}
	cost, ok := costs[string(taskType)]
	if !ok {
		return 0, fmt.Errorf("%w: no cost configured for type %q", domain.ErrInvalidInput, taskType)
	}
	return cost, nil
}

// QueuePolicy returns the queue-level retry policy.
func (s *SettingsPG) QueuePolicy(ctx context.Context) (domain.QueuePolicy, error) {
	raw, err := s.get(ctx, "queue_policy")
	if err != nil {
		return domain.QueuePolicy{}, err
	}
	var v struct {
		MaxAttempts   int   `json:"max_attempts"`
		BaseBackoffMs int64 `json:"base_backoff_ms"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.QueuePolicy{}, fmt.Errorf("decode queue_policy: %w", err)
	}
	return domain.QueuePolicy{
		MaxAttempts: v.MaxAttempts,
		BaseBackoff: time.Duration(v.BaseBackoffMs) * time.Millisecond,
	}, nil
}

// PollPolicy returns the provider polling cadence and budget.
func (s *SettingsPG) PollPolicy(ctx context.Context) (domain.PollPolicy, error) {
	raw, err := s.get(ctx, "poll_policy")
	if err != nil {
		return domain.PollPolicy{}, err
	}
	var v struct {
		IntervalMs  int64 `json:"interval_ms"`
		MaxAttempts int   `json:"max_attempts"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.PollPolicy{}, fmt.Errorf("decode poll_policy: %w", err)
	}
	return domain.PollPolicy{
		Interval:    time.Duration(v.IntervalMs) * time.Millisecond,
		MaxAttempts: v.MaxAttempts,
	}, nil
}

func (s *SettingsPG) get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && time.Since(entry.fetchedAt) < settingsCacheTTL {
		s.mu.Unlock()
		return entry.raw, nil
	}
	s.mu.Unlock()

	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1;`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("setting %q: %w", key, domain.ErrNotFound)
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = cachedSetting{raw: raw, fetchedAt: time.Now()}
	s.mu.Unlock()
	return raw, nil
}
