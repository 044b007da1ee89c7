package fhgateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitTask(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/task" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req TaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.JobName != "CROW" || req.Query != "what is x" {
			t.Fatalf("unexpected request payload: %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "success",
			"task_id":  "task-1",
			"job_name": "CROW",
			"query":    "what is x",
		})
	}))

	submission, err := client.SubmitTask(context.Background(), TaskRequest{JobName: "CROW", Query: "what is x"})
	if err != nil {
		t.Fatalf("submit task: %v", err)
	}
	if submission.TaskID != "task-1" || submission.JobName != "CROW" {
		t.Fatalf("unexpected submission: %+v", submission)
	}
}

func TestTaskResultPending(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task/task-1/result" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "pending",
			"task_id":     "task-1",
			"task_status": "in progress",
		})
	}))

	result, err := client.TaskResult(context.Background(), "task-1", false)
	if err != nil {
		t.Fatalf("task result: %v", err)
	}
	if !result.Pending {
		t.Fatal("expected pending result")
	}
	if result.Result != nil {
		t.Fatalf("expected empty result payload, got %+v", result.Result)
	}
}

func TestTaskResultAvailable(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("verbose") != "true" {
			t.Fatalf("expected verbose query, got %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "success",
			"task_id":     "task-1",
			"task_status": "success",
			"result": map[string]any{
				"task_id": "task-1",
				"status":  "success",
				"result":  map[string]any{"answer": "42"},
			},
		})
	}))

	result, err := client.TaskResult(context.Background(), "task-1", true)
	if err != nil {
		t.Fatalf("task result: %v", err)
	}
	if result.Pending {
		t.Fatal("expected final result")
	}
	if result.Result["status"] != "success" {
		t.Fatalf("unexpected result payload: %+v", result.Result)
	}
}

func TestRunBatch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task/batch" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req struct {
			Tasks []TaskRequest `json:"tasks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tasks) != 2 {
			t.Fatalf("expected 2 tasks, got %d", len(req.Tasks))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"results": []map[string]any{
				{"job_name": "CROW", "query": "q1", "task_id": "task-1"},
				{"job_name": "OWL", "query": "q2", "error": "boom", "error_code": "UPSTREAM_FAILURE"},
			},
			"count":     2,
			"succeeded": 1,
		})
	}))

	result, err := client.RunBatch(context.Background(), []TaskRequest{
		{JobName: "CROW", Query: "q1"},
		{JobName: "OWL", Query: "q2"},
	})
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if result.Count != 2 || result.Succeeded != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.Results[1].ErrorCode != "UPSTREAM_FAILURE" {
		t.Fatalf("unexpected second entry: %+v", result.Results[1])
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   true,
			"status":  "error",
			"code":    "VALIDATION_FAILED",
			"message": "job_name is required",
		})
	}))

	_, err := client.SubmitTask(context.Background(), TaskRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "VALIDATION_FAILED" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestAuthTokenHeader(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected authorization header: %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "healthy"})
	}), WithAuthToken("secret"))

	if _, err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestSubmissionsFilter(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("limit") != "5" || query.Get("job") != "CROW" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"submissions": []map[string]any{
				{"task_id": "task-1", "job_name": "CROW", "query": "q", "status": "submitted"},
			},
			"count": 1,
		})
	}))

	entries, err := client.Submissions(context.Background(), HistoryFilter{Limit: 5, JobName: "CROW"})
	if err != nil {
		t.Fatalf("submissions: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "task-1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
