package domain

import "time"

// TaskType enumerates supported generation kinds. The set is closed at
// submission time; adding a kind means extending this enum and the provider
// route table, nothing else.
type TaskType string

const (
	TaskTypeVideoGenerate TaskType = "video_generate"
	TaskTypeFaceSwap      TaskType = "face_swap"
	TaskTypeImageUpscale  TaskType = "image_upscale"
	TaskTypeImageGenerate TaskType = "image_generate"
)

// Valid reports whether t is one of the known generation kinds.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeVideoGenerate, TaskTypeFaceSwap, TaskTypeImageUpscale, TaskTypeImageGenerate:
		return true
	}
	return false
}

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions may occur.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is one user-initiated generation request and its lifecycle record.
//
// CostCoins is debited exactly once at creation, before the task is visible
// to the queue, and credited back exactly once if and only if the task ends
// up failed. ProviderJobID is set once the external submission succeeds and
// is what makes queue redelivery idempotent: a worker that sees it non-empty
// resumes polling instead of resubmitting.
type Task struct {
	ID               string
	UserID           string
	Type             TaskType
	Status           TaskStatus
	Progress         int
	InputJSON        []byte
	OutputJSON       []byte
	CostCoins        int64
	ProviderJobID    string
	ErrorMessage     string
	Refunded         bool
	ProcessingTimeMs int64
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// TaskOutput is the result payload stored on completion.
type TaskOutput struct {
	ResultURL    string `json:"result_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// TaskFilter narrows admin task listings.
type TaskFilter struct {
	UserID string
	Type   TaskType
	Status TaskStatus
}
