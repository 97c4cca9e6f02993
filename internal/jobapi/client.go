// Package jobapi talks to the generation job endpoints: start, progress and
// cancel. Client satisfies tracker.Source.
package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mark3labs/reelsmith/internal/logger"
	"github.com/mark3labs/reelsmith/internal/tracker"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("job api: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the job API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// StartRequest is the body of a start-generation call.
type StartRequest struct {
	TargetID string          `json:"targetId"`
	Kind     string          `json:"kind,omitempty"`
	Title    string          `json:"title,omitempty"`
	Brief    json.RawMessage `json:"brief,omitempty"`
}

// Job is the descriptor returned when a generation starts.
type Job struct {
	ID     string         `json:"id"`
	Status tracker.Status `json:"status"`
}

// progressBody mirrors the BatchProgress payload.
type progressBody struct {
	JobID     string  `json:"jobId"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Error     string  `json:"error"`
	ResultURL string  `json:"resultUrl"`
}

// Client is an HTTP client for the job API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start asks the backend to begin a generation run.
func (c *Client) Start(ctx context.Context, req StartRequest) (Job, error) {
	if strings.TrimSpace(req.TargetID) == "" {
		return Job{}, errors.New("start generation: target id is required")
	}

	var job Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &job); err != nil {
		return Job{}, fmt.Errorf("start generation: %w", err)
	}
	if job.ID == "" {
		return Job{}, errors.New("start generation: response carried no job id")
	}
	if job.Status == "" {
		job.Status = tracker.StatusQueued
	}
	logger.Info("Started job %s for target %s", job.ID, req.TargetID)
	return job, nil
}

// Progress fetches the current BatchProgress snapshot for jobID.
func (c *Client) Progress(ctx context.Context, jobID string) (tracker.Snapshot, error) {
	var body progressBody
	path := "/v1/jobs/" + url.PathEscape(jobID) + "/progress"
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return tracker.Snapshot{}, fmt.Errorf("get progress: %w", err)
	}

	status, err := tracker.ParseStatus(body.Status)
	if err != nil {
		return tracker.Snapshot{}, fmt.Errorf("get progress: %w", err)
	}
	if body.JobID == "" {
		body.JobID = jobID
	}

	return tracker.Snapshot{
		JobID:     body.JobID,
		Status:    status,
		Progress:  body.Progress,
		Completed: body.Completed,
		Total:     body.Total,
		Error:     body.Error,
		ResultURL: body.ResultURL,
		FetchedAt: time.Now(),
	}, nil
}

// Cancel requests termination of jobID. Only an acknowledgment is expected.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	path := "/v1/jobs/" + url.PathEscape(jobID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Debug("%s %s", method, path)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
