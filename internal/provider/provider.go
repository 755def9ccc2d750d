// Package provider abstracts the external generation vendor behind a small
// capability interface: submit work, then poll it to a terminal state.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"artforge/internal/domain"
)

// JobStatus is the vendor-side state of a submitted job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// PollResult is the vendor's answer to a status poll. Poll is idempotent and
// side-effect-free; the worker may call it any number of times.
type PollResult struct {
	Status       JobStatus
	Progress     int
	ResultURL    string
	ThumbnailURL string
	Error        string
}

// Provider is the capability contract over the external generation API. The
// shared client is stateless and safe for concurrent use across executors.
type Provider interface {
	// Submit starts a generation job and returns the vendor's job id.
	Submit(ctx context.Context, taskType domain.TaskType, input json.RawMessage) (string, error)

	// Poll reports the current state of a previously submitted job.
	Poll(ctx context.Context, providerJobID string) (PollResult, error)
}

// route describes how one generation type maps onto the vendor API. New
// types are added here and in the domain enum; no switch statements
// elsewhere.
type route struct {
	Endpoint string
	Model    string
}

var routes = map[domain.TaskType]route{
	domain.TaskTypeVideoGenerate: {Endpoint: "video/generations", Model: "forge-video-1"},
	domain.TaskTypeFaceSwap:      {Endpoint: "image/face-swap", Model: "forge-swap-2"},
	domain.TaskTypeImageUpscale:  {Endpoint: "image/upscale", Model: "forge-upscale-1"},
	domain.TaskTypeImageGenerate: {Endpoint: "image/generations", Model: "forge-image-3"},
}

// routeFor resolves the vendor route for a generation type.
func routeFor(taskType domain.TaskType) (route, error) {
	r, ok := routes[taskType]
	if !ok {
		return route{}, fmt.Errorf("%w: no provider route for type %q", domain.ErrInvalidInput, taskType)
	}
	return r, nil
}
