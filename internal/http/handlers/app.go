package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"artforge/internal/domain"
	"artforge/internal/queue"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// TaskAPI is the user-facing service surface the handlers call.
type TaskAPI interface {
	Submit(ctx context.Context, userID string, taskType domain.TaskType, input json.RawMessage) (*domain.Task, error)
	GetStatus(ctx context.Context, taskID string) (*domain.Task, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Artifacts(ctx context.Context, userID string, limit, offset int) ([]domain.Artifact, error)
}

// AdminAPI is the operator service surface.
type AdminAPI interface {
	ListTasks(ctx context.Context, filter domain.TaskFilter, limit, offset int) ([]domain.Task, error)
	QueueStats(ctx context.Context) (queue.Stats, error)
	InspectQueue(ctx context.Context, state string, limit int64) ([]queue.Job, error)
	Retry(ctx context.Context, taskID string) (*domain.Task, error)
	Cancel(ctx context.Context, taskID string) error
	PurgeQueue(ctx context.Context, state string, olderThan time.Duration) (int64, error)
	Credit(ctx context.Context, userID string, amount int64) error
}

// App bundles the handler dependencies. Handlers stay thin: decode, call a
// service, encode.
type App struct {
	Tasks  TaskAPI
	Admin  AdminAPI
	DB     *pgxpool.Pool
	Logger zerolog.Logger
}

func NewApp(tasks TaskAPI, admin AdminAPI, db *pgxpool.Pool, logger zerolog.Logger) *App {
	return &App{Tasks: tasks, Admin: admin, DB: db, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error":   errCode,
		"message": message,
	})
}

// domainError maps service errors onto the wire. Unknown errors become a
// 500 with a generic body; the detail goes to the log, not the client.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrInsufficientCoins):
		a.error(w, http.StatusPaymentRequired, "insufficient_coins", "not enough coins for this task")
	case errors.Is(err, domain.ErrQueueUnavailable):
		a.error(w, http.StatusServiceUnavailable, "queue_unavailable", "task could not be queued, coins were refunded")
	case errors.Is(err, domain.ErrTaskNotRetryable):
		a.error(w, http.StatusConflict, "not_retryable", err.Error())
	case errors.Is(err, domain.ErrTaskNotCancelable):
		a.error(w, http.StatusConflict, "not_cancelable", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("http: unhandled service error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// currentUserID pulls the caller identity set by the fronting auth proxy.
func (a *App) currentUserID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}
