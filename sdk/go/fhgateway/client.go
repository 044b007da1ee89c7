// Package fhgateway provides a small Go client for the FutureHouse task
// gateway REST API.
package fhgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Run and RunBatch calls block until the remote task
// finishes, so callers driving those endpoints should supply their own client
// with a larger timeout.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the gateway REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	authToken  string
}

// Job describes an available remote agent.
type Job struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UseCase     string `json:"use_case"`
}

// Health is the gateway liveness report.
type Health struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Version          string `json:"version"`
	APIKeyConfigured bool   `json:"api_key_configured"`
}

// TaskRequest is the payload required to submit a task.
type TaskRequest struct {
	JobName       string         `json:"job_name"`
	Query         string         `json:"query"`
	TaskID        string         `json:"task_id,omitempty"`
	RuntimeConfig map[string]any `json:"runtime_config,omitempty"`
}

// Submission is the handle returned for an accepted task.
type Submission struct {
	TaskID  string `json:"task_id"`
	JobName string `json:"job_name"`
	Query   string `json:"query"`
}

// TaskStatus is the live status of a remote task.
type TaskStatus struct {
	TaskID      string `json:"task_id"`
	TaskStatus  string `json:"task_status"`
	IsCompleted bool   `json:"is_completed"`
}

// TaskResult holds the final record of a finished task. Pending is true when
// the task has not reached a terminal state yet; Result is nil in that case.
type TaskResult struct {
	TaskID     string         `json:"task_id"`
	TaskStatus string         `json:"task_status"`
	Pending    bool           `json:"-"`
	Result     map[string]any `json:"result,omitempty"`
}

// RunOutcome is the final product of a run-to-completion call.
type RunOutcome struct {
	TaskID     string         `json:"task_id"`
	JobName    string         `json:"job_name"`
	Query      string         `json:"query"`
	TaskStatus string         `json:"task_status"`
	Response   map[string]any `json:"response,omitempty"`
}

// BatchEntry is the per-task result of a batch execution, aligned with the
// order of the submitted requests.
type BatchEntry struct {
	JobName   string         `json:"job_name"`
	Query     string         `json:"query"`
	TaskID    string         `json:"task_id,omitempty"`
	Response  map[string]any `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
}

// BatchResult aggregates the outcome of one batch call.
type BatchResult struct {
	Results   []BatchEntry `json:"results"`
	Count     int          `json:"count"`
	Succeeded int          `json:"succeeded"`
}

// HistoryEntry is a recorded submission.
type HistoryEntry struct {
	TaskID    string `json:"task_id"`
	JobName   string `json:"job_name"`
	Query     string `json:"query"`
	BatchID   string `json:"batch_id,omitempty"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// HistoryStats aggregates submission history counts.
type HistoryStats struct {
	Total           int   `json:"total"`
	Submitted       int   `json:"submitted"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	OldestCreatedAt int64 `json:"oldest_created_at,omitempty"`
	NewestCreatedAt int64 `json:"newest_created_at,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("fhgateway api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("fhgateway api error (%d): %s", e.StatusCode, e.Message)
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAuthToken sets the bearer token sent with every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// NewClient instantiates a client for the gateway API.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Health reports gateway liveness.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	if err := c.get(ctx, "/health", nil, &health); err != nil {
		return Health{}, err
	}
	return health, nil
}

// Jobs lists the available remote agents.
func (c *Client) Jobs(ctx context.Context) ([]Job, error) {
	var payload struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, "/jobs", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Jobs, nil
}

// SubmitTask submits a task and returns its handle without waiting for it to
// finish.
func (c *Client) SubmitTask(ctx context.Context, req TaskRequest) (Submission, error) {
	var submission Submission
	if err := c.post(ctx, "/task", req, &submission); err != nil {
		return Submission{}, err
	}
	return submission, nil
}

// TaskStatus reads the live status of a task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	var status TaskStatus
	endpoint := "/task/" + url.PathEscape(taskID) + "/status"
	if err := c.get(ctx, endpoint, nil, &status); err != nil {
		return TaskStatus{}, err
	}
	return status, nil
}

// TaskResult fetches the final result of a task. When the task has not
// finished yet the returned result has Pending set and no error is reported.
func (c *Client) TaskResult(ctx context.Context, taskID string, verbose bool) (TaskResult, error) {
	endpoint := "/task/" + url.PathEscape(taskID) + "/result"
	query := url.Values{}
	if verbose {
		query.Set("verbose", "true")
	}

	var result TaskResult
	status, err := c.do(ctx, http.MethodGet, endpoint, query, nil, &result)
	if err != nil {
		return TaskResult{}, err
	}
	result.Pending = status == http.StatusAccepted
	return result, nil
}

// RunTask submits a task and blocks until the remote execution finishes.
func (c *Client) RunTask(ctx context.Context, req TaskRequest, verbose bool) (RunOutcome, error) {
	payload := struct {
		TaskRequest
		Verbose bool `json:"verbose"`
	}{TaskRequest: req, Verbose: verbose}

	var outcome RunOutcome
	if err := c.post(ctx, "/task/run", payload, &outcome); err != nil {
		return RunOutcome{}, err
	}
	return outcome, nil
}

// RunBatch executes a set of tasks concurrently and waits for all of them.
// Individual task failures are reported inline in the corresponding entry.
func (c *Client) RunBatch(ctx context.Context, reqs []TaskRequest) (BatchResult, error) {
	payload := struct {
		Tasks []TaskRequest `json:"tasks"`
	}{Tasks: reqs}

	var result BatchResult
	if err := c.post(ctx, "/task/batch", payload, &result); err != nil {
		return BatchResult{}, err
	}
	return result, nil
}

// HistoryFilter narrows the submissions returned by Submissions and Stats.
type HistoryFilter struct {
	Limit   int
	Status  string
	JobName string
	BatchID string
}

func (f HistoryFilter) values() url.Values {
	query := url.Values{}
	if f.Limit > 0 {
		query.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Status != "" {
		query.Set("status", f.Status)
	}
	if f.JobName != "" {
		query.Set("job", f.JobName)
	}
	if f.BatchID != "" {
		query.Set("batch", f.BatchID)
	}
	return query
}

// Submissions lists the tasks submitted through the gateway.
func (c *Client) Submissions(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	var payload struct {
		Submissions []HistoryEntry `json:"submissions"`
	}
	if err := c.get(ctx, "/tasks", filter.values(), &payload); err != nil {
		return nil, err
	}
	return payload.Submissions, nil
}

// Stats aggregates the submission history.
func (c *Client) Stats(ctx context.Context, filter HistoryFilter) (HistoryStats, error) {
	var payload struct {
		Stats HistoryStats `json:"stats"`
	}
	if err := c.get(ctx, "/tasks/stats", filter.values(), &payload); err != nil {
		return HistoryStats{}, err
	}
	return payload.Stats, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	_, err := c.do(ctx, http.MethodGet, endpoint, query, nil, out)
	return err
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body), out)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, out any) (int, error) {
	target := c.baseURL.String() + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr == nil && len(data) > 0 {
			if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
				apiErr.Message = string(bytes.TrimSpace(data))
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, apiErr
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
