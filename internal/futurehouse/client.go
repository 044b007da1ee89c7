package futurehouse

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
)

// DefaultTimeout bounds a single remote call. Run-to-completion waits are
// driven by the poll loop, not by this value.
const DefaultTimeout = 60 * time.Second

// DefaultPollInterval is the delay between status polls in WaitForTask.
const DefaultPollInterval = 5 * time.Second

// API captures the remote operations the gateway depends on, so handlers can
// be tested against a fake upstream.
type API interface {
	CreateTask(ctx context.Context, submission TaskSubmission) (string, error)
	GetTaskStatus(ctx context.Context, taskID string) (string, error)
	GetTask(ctx context.Context, taskID string, verbose bool) (*TaskRecord, error)
	WaitForTask(ctx context.Context, taskID string, verbose bool) (*TaskRecord, error)
}

// TaskSubmission is the payload forwarded to the remote service. RuntimeConfig
// is passed through unmodified.
type TaskSubmission struct {
	Name          string         `json:"name"`
	Query         string         `json:"query"`
	TaskID        string         `json:"task_id,omitempty"`
	RuntimeConfig map[string]any `json:"runtime_config,omitempty"`
}

// TaskRecord is the remote view of a task. The gateway never interprets the
// result payload; it is forwarded verbatim.
type TaskRecord struct {
	TaskID  string         `json:"task_id"`
	Name    string         `json:"name,omitempty"`
	Query   string         `json:"query,omitempty"`
	Status  string         `json:"status"`
	Result  map[string]any `json:"result,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// APIError represents a non-2xx answer from the remote service.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("futurehouse api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a remote 404 for an unknown task id.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Terminal statuses of the remote task lifecycle. The set is deliberately a
// superset of what the service documents, since the lifecycle is opaque.
func IsTerminalStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "completed", "failed", "error", "cancelled":
		return true
	default:
		return false
	}
}

// IsSuccessStatus reports whether a terminal status denotes success.
func IsSuccessStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "completed":
		return true
	default:
		return false
	}
}

// Config describes how to reach the remote service.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Client talks to the FutureHouse REST API with bearer-token auth.
type Client struct {
	baseURL      *url.URL
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
}

// NewClient builds a Client. An empty API key is accepted: the credential is
// validated by the remote service on the first call, not at startup.
func NewClient(cfg Config) (*Client, error) {
	rawURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if rawURL == "" {
		return nil, errors.New("futurehouse base url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Client{
		baseURL:      parsed,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		httpClient:   httpClient,
		pollInterval: pollInterval,
	}, nil
}

// CreateTask submits a task and returns the opaque id issued by the remote
// service.
func (c *Client) CreateTask(ctx context.Context, submission TaskSubmission) (string, error) {
	var created struct {
		TaskID string `json:"task_id"`
	}
	if err := c.post(ctx, "/v1/tasks", submission, &created); err != nil {
		return "", err
	}
	if created.TaskID == "" {
		return "", errors.New("remote service returned an empty task id")
	}
	return created.TaskID, nil
}

// GetTaskStatus reads the current remote status of a task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (string, error) {
	var status struct {
		Status string `json:"status"`
	}
	endpoint := "/v1/tasks/" + url.PathEscape(taskID) + "/status"
	if err := c.get(ctx, endpoint, &status); err != nil {
		return "", err
	}
	return status.Status, nil
}

// GetTask fetches the full remote record, including the result payload once
// the task is terminal.
func (c *Client) GetTask(ctx context.Context, taskID string, verbose bool) (*TaskRecord, error) {
	endpoint := "/v1/tasks/" + url.PathEscape(taskID)
	if verbose {
		endpoint += "?verbose=true"
	}
	var record TaskRecord
	if err := c.get(ctx, endpoint, &record); err != nil {
		return nil, err
	}
	if record.TaskID == "" {
		record.TaskID = taskID
	}
	return &record, nil
}

// WaitForTask polls the remote status until the task reaches a terminal state
// and then returns the full record. It enforces no timeout of its own; the
// caller bounds the wait through ctx.
func (c *Client) WaitForTask(ctx context.Context, taskID string, verbose bool) (*TaskRecord, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetTaskStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if IsTerminalStatus(status) {
			return c.GetTask(ctx, taskID, verbose)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
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
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ API = (*Client)(nil)
