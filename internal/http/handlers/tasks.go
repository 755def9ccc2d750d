package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"artforge/internal/domain"

	"github.com/go-chi/chi/v5"
)

type createTaskRequest struct {
	Type  domain.TaskType `json:"type"`
	Input json.RawMessage `json:"input"`
}

type taskResponse struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Type          domain.TaskType `json:"type"`
	Status        string          `json:"status"`
	Progress      int             `json:"progress"`
	CostCoins     int64           `json:"cost_coins"`
	Output        json.RawMessage `json:"output,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Refunded      bool            `json:"refunded"`
	ProcessingMs  int64           `json:"processing_time_ms,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ProviderJobID string          `json:"provider_job_id,omitempty"`
}

func taskToResponse(t *domain.Task) taskResponse {
	resp := taskResponse{
		ID:            t.ID,
		UserID:        t.UserID,
		Type:          t.Type,
		Status:        string(t.Status),
		Progress:      t.Progress,
		CostCoins:     t.CostCoins,
		ErrorMessage:  t.ErrorMessage,
		Refunded:      t.Refunded,
		ProcessingMs:  t.ProcessingTimeMs,
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
		ProviderJobID: t.ProviderJobID,
	}
	if len(t.OutputJSON) > 0 {
		resp.Output = json.RawMessage(t.OutputJSON)
	}
	return resp
}

// CreateTask handles POST /v1/tasks: reserve coins, persist, enqueue.
func (a *App) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	task, err := a.Tasks.Submit(r.Context(), userID, req.Type, req.Input)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, taskToResponse(task))
}

// TaskStatus handles GET /v1/tasks/{id}.
func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "task id required")
		return
	}
	task, err := a.Tasks.GetStatus(r.Context(), id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, taskToResponse(task))
}
