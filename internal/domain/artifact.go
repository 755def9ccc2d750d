package domain

import "time"

// Artifact is a finished generation result in a user's library. The worker
// writes one each time a task completes.
type Artifact struct {
	ID           string
	UserID       string
	TaskID       string
	Type         TaskType
	ResultURL    string
	ThumbnailURL string
	CreatedAt    time.Time
}
