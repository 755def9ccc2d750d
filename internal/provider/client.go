package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"artforge/internal/domain"
	"artforge/internal/infra"
)

// Options controls how the vendor client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     infra.Logger
}

// Client is the HTTP adapter over the generation vendor. It carries no
// per-job state, so one instance is shared by every executor.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     infra.Logger
}

// NewClient constructs a vendor client. A nil HTTPClient falls back to a
// client with a 60s timeout; submission and poll calls are short, the slow
// part happens vendor-side between polls.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

type submitRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit posts the task input to the route configured for its type and
// returns the vendor job id.
func (c *Client) Submit(ctx context.Context, taskType domain.TaskType, input json.RawMessage) (string, error) {
	r, err := routeFor(taskType)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(submitRequest{Model: r.Model, Input: input})
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, r.Endpoint)
	if err != nil {
		return "", fmt.Errorf("build submit url: %w", err)
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return "", fmt.Errorf("%w: submit %s: %v", domain.ErrProviderFailure, taskType, err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("%w: submit %s: empty job id", domain.ErrProviderFailure, taskType)
	}

	c.logger.Debug().Str("type", string(taskType)).Str("provider_job_id", resp.JobID).Msg("provider: submitted")
	return resp.JobID, nil
}

type pollResponse struct {
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	ResultURL    string `json:"result_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Error        string `json:"error"`
}

// Poll fetches the vendor-side status of a job.
func (c *Client) Poll(ctx context.Context, providerJobID string) (PollResult, error) {
	endpoint, err := url.JoinPath(c.baseURL, "jobs", providerJobID)
	if err != nil {
		return PollResult{}, fmt.Errorf("build poll url: %w", err)
	}

	var resp pollResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return PollResult{}, fmt.Errorf("%w: poll %s: %v", domain.ErrProviderFailure, providerJobID, err)
	}

	status := JobStatus(resp.Status)
	switch status {
	case JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
	default:
		// Vendors report transitional states inconsistently; anything
		// non-terminal counts as still processing.
		status = JobStatusProcessing
	}

	return PollResult{
		Status:       status,
		Progress:     resp.Progress,
		ResultURL:    resp.ResultURL,
		ThumbnailURL: resp.ThumbnailURL,
		Error:        resp.Error,
	}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(payload, 256))
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
