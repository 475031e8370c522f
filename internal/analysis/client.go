// Package analysis is the HTTP client for the external long-running document
// analysis service. A submission returns a job handle that is polled until the
// service reports a terminal status; the raw result payload is only fetched
// once the job succeeds.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Terminal and in-flight job states as reported by the service.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Service submits split-unit PDFs for analysis.
type Service interface {
	Submit(ctx context.Context, pdf []byte, pageRange string) (Job, error)
}

// Job is a handle on one outstanding submission. Refresh re-queries the
// service; Done, Status and FailureReason read the last refreshed state.
type Job interface {
	ID() string
	Refresh(ctx context.Context) error
	Done() bool
	Status() string
	FailureReason() string
	// Result fetches the raw analysis payload. Only valid once Done and
	// Status == succeeded.
	Result(ctx context.Context) ([]byte, error)
}

// Config holds the connection settings for the analysis service.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client implements Service against the analysis REST API.
type Client struct {
	config     Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

type statusResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Submit sends the PDF bytes for the given 1-based inclusive page range and
// returns a handle on the created job.
func (c *Client) Submit(ctx context.Context, pdf []byte, pageRange string) (Job, error) {
	endpoint := fmt.Sprintf("%s/analyze?pages=%s", c.config.Endpoint, url.QueryEscape(pageRange))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(pdf))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Api-Key", c.config.APIKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result submitResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse submit response: %w, body: %s", err, string(body))
	}
	if result.JobID == "" {
		return nil, fmt.Errorf("submit response missing jobId, body: %s", string(body))
	}

	return &job{client: c, id: result.JobID, status: StatusRunning}, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

type job struct {
	client *Client
	id     string
	status string
	reason string
}

func (j *job) ID() string { return j.id }

func (j *job) Refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/analyze/%s", j.client.config.Endpoint, url.PathEscape(j.id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Api-Key", j.client.config.APIKey)

	body, err := j.client.do(req)
	if err != nil {
		return err
	}

	var result statusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse status response: %w, body: %s", err, string(body))
	}
	j.status = result.Status
	j.reason = result.Error
	return nil
}

func (j *job) Done() bool {
	return j.status == StatusSucceeded || j.status == StatusFailed
}

func (j *job) Status() string { return j.status }

func (j *job) FailureReason() string { return j.reason }

func (j *job) Result(ctx context.Context) ([]byte, error) {
	if j.status != StatusSucceeded {
		return nil, fmt.Errorf("job %s result requested in status %q", j.id, j.status)
	}
	endpoint := fmt.Sprintf("%s/analyze/%s/result", j.client.config.Endpoint, url.PathEscape(j.id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Api-Key", j.client.config.APIKey)
	return j.client.do(req)
}
