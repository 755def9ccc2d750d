package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"artforge/internal/domain"

	"github.com/go-chi/chi/v5"
)

// AdminListTasks handles GET /v1/admin/tasks with optional user_id, type
// and status filters.
func (a *App) AdminListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TaskFilter{
		UserID: q.Get("user_id"),
		Type:   domain.TaskType(q.Get("type")),
		Status: domain.TaskStatus(q.Get("status")),
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	tasks, err := a.Admin.ListTasks(r.Context(), filter, limit, offset)
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		items = append(items, taskToResponse(&tasks[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// AdminQueueStats handles GET /v1/admin/queue/stats.
func (a *App) AdminQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Admin.QueueStats(r.Context())
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, stats)
}

// AdminInspectQueue handles GET /v1/admin/queue/{state}.
func (a *App) AdminInspectQueue(w http.ResponseWriter, r *http.Request) {
	state := chi.URLParam(r, "state")
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

	jobs, err := a.Admin.InspectQueue(r.Context(), state, limit)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": jobs})
}

// AdminRetryTask handles POST /v1/admin/tasks/{id}/retry.
func (a *App) AdminRetryTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := a.Admin.Retry(r.Context(), id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, taskToResponse(task))
}

// AdminCancelTask handles POST /v1/admin/tasks/{id}/cancel.
func (a *App) AdminCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Admin.Cancel(r.Context(), id); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type purgeRequest struct {
	State     string `json:"state"`
	OlderThan string `json:"older_than"`
}

// AdminPurgeQueue handles POST /v1/admin/queue/purge. OlderThan is a Go
// duration string; empty means purge regardless of age.
func (a *App) AdminPurgeQueue(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	var olderThan time.Duration
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid older_than duration")
			return
		}
		olderThan = d
	}
	removed, err := a.Admin.PurgeQueue(r.Context(), req.State, olderThan)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"removed": removed})
}

type creditRequest struct {
	Coins int64 `json:"coins"`
}

// AdminCreditUser handles POST /v1/admin/users/{id}/credit.
func (a *App) AdminCreditUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Admin.Credit(r.Context(), id, req.Coins); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "credited"})
}
