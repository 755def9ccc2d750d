package handlers

import (
	"net/http"
	"strconv"
	"time"
)

type artifactDTO struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	Type         string    `json:"type"`
	ResultURL    string    `json:"result_url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListArtifacts handles GET /v1/artifacts for the calling user.
func (a *App) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	artifacts, err := a.Tasks.Artifacts(r.Context(), userID, limit, offset)
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]artifactDTO, 0, len(artifacts))
	for _, art := range artifacts {
		items = append(items, artifactDTO{
			ID:           art.ID,
			TaskID:       art.TaskID,
			Type:         string(art.Type),
			ResultURL:    art.ResultURL,
			ThumbnailURL: art.ThumbnailURL,
			CreatedAt:    art.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
