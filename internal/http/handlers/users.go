package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// UserBalance handles GET /v1/users/{id}/balance.
func (a *App) UserBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "user id required")
		return
	}
	balance, err := a.Tasks.Balance(r.Context(), userID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"coins":   balance,
	})
}
