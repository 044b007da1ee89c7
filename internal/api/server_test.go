package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"futurehouse-gateway/internal/futurehouse"
	"futurehouse-gateway/internal/gateway"
	"futurehouse-gateway/internal/history"
)

// fakeRemote 模拟远端服务。statuses 预置任务状态，未预置的任务返回 404。
type fakeRemote struct {
	mu       sync.Mutex
	statuses map[string]string
	nextID   int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{statuses: make(map[string]string)}
}

func (f *fakeRemote) CreateTask(_ context.Context, submission futurehouse.TaskSubmission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if submission.TaskID != "" {
		return submission.TaskID, nil
	}
	f.nextID++
	return fmt.Sprintf("task-%d", f.nextID), nil
}

func (f *fakeRemote) GetTaskStatus(_ context.Context, taskID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[taskID]
	if !ok {
		return "", &futurehouse.APIError{StatusCode: http.StatusNotFound, Message: "unknown task"}
	}
	return status, nil
}

func (f *fakeRemote) GetTask(_ context.Context, taskID string, _ bool) (*futurehouse.TaskRecord, error) {
	status, err := f.GetTaskStatus(context.Background(), taskID)
	if err != nil {
		return nil, err
	}
	return &futurehouse.TaskRecord{
		TaskID: taskID,
		Status: status,
		Result: map[string]any{"answer": "ok"},
	}, nil
}

func (f *fakeRemote) WaitForTask(ctx context.Context, taskID string, verbose bool) (*futurehouse.TaskRecord, error) {
	f.mu.Lock()
	if _, ok := f.statuses[taskID]; !ok {
		f.statuses[taskID] = "success"
	}
	f.mu.Unlock()
	return f.GetTask(ctx, taskID, verbose)
}

var _ futurehouse.API = (*fakeRemote)(nil)

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *fakeRemote) {
	t.Helper()
	remote := newFakeRemote()
	svc := gateway.NewService(remote, history.NewMemoryStore(0))
	return NewServer(":0", svc, opts...), remote
}

func do(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t, WithAPIKeyConfigured(true))

	rec := do(t, server, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	payload := decode(t, rec)
	if payload["status"] != "healthy" {
		t.Fatalf("unexpected health status: %v", payload["status"])
	}
	if payload["api_key_configured"] != true {
		t.Fatalf("expected api_key_configured true, got %v", payload["api_key_configured"])
	}
}

func TestHandleJobs(t *testing.T) {
	server, _ := newTestServer(t)

	rec := do(t, server, http.MethodGet, "/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	payload := decode(t, rec)
	jobs, ok := payload["jobs"].([]any)
	if !ok || len(jobs) != 5 {
		t.Fatalf("expected 5 jobs, got %v", payload["jobs"])
	}
}

func TestHandleCreateTask(t *testing.T) {
	server, _ := newTestServer(t)

	rec := do(t, server, http.MethodPost, "/task", `{"job_name":"crow","query":"what is x"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status code: got %d want %d, body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	payload := decode(t, rec)
	if payload["task_id"] == "" || payload["job_name"] != "CROW" || payload["query"] != "what is x" {
		t.Fatalf("unexpected response: %v", payload)
	}
}

func TestHandleCreateTaskErrors(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("invalid method", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/task", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(t, server, http.MethodPost, "/task", "{not json")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := do(t, server, http.MethodPost, "/task", `{"job_name":"eagle","query":"q"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
		payload := decode(t, rec)
		if payload["error"] != true {
			t.Fatalf("expected error payload, got %v", payload)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := do(t, server, http.MethodPost, "/task", `{"job_name":"crow"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestHandleTaskStatus(t *testing.T) {
	server, remote := newTestServer(t)
	remote.statuses["task-running"] = "in progress"
	remote.statuses["task-done"] = "success"

	rec := do(t, server, http.MethodGet, "/task/task-running/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	payload := decode(t, rec)
	if payload["task_status"] != "in progress" || payload["is_completed"] != false {
		t.Fatalf("unexpected payload: %v", payload)
	}

	rec = do(t, server, http.MethodGet, "/task/task-done/status", "")
	payload = decode(t, rec)
	if payload["is_completed"] != true {
		t.Fatalf("expected completed task, got %v", payload)
	}

	rec = do(t, server, http.MethodGet, "/task/missing/status", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestHandleTaskResult(t *testing.T) {
	server, remote := newTestServer(t)
	remote.statuses["task-running"] = "in progress"
	remote.statuses["task-done"] = "success"

	t.Run("pending", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/task/task-running/result", "")
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected status %d, got %d", http.StatusAccepted, rec.Code)
		}
		payload := decode(t, rec)
		if payload["status"] != "pending" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	})

	t.Run("available", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/task/task-done/result", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		payload := decode(t, rec)
		result, ok := payload["result"].(map[string]any)
		if !ok || result["status"] != "success" {
			t.Fatalf("unexpected result payload: %v", payload)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/task/missing/result", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("unknown sub resource", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/task/task-done/output", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestHandleRunTask(t *testing.T) {
	server, _ := newTestServer(t)

	rec := do(t, server, http.MethodPost, "/task/run", `{"job_name":"dummy","query":"q"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d, body %s", rec.Code, rec.Body.String())
	}
	payload := decode(t, rec)
	if payload["task_status"] != "success" || payload["response"] == nil {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestHandleRunBatch(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"tasks":[
		{"job_name":"crow","query":"q1"},
		{"job_name":"eagle","query":"bad"},
		{"job_name":"dummy","query":"q3"}
	]}`
	rec := do(t, server, http.MethodPost, "/task/batch", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d, body %s", rec.Code, rec.Body.String())
	}
	payload := decode(t, rec)
	if payload["count"] != float64(3) || payload["succeeded"] != float64(2) {
		t.Fatalf("unexpected counts: %v", payload)
	}
	results, ok := payload["results"].([]any)
	if !ok || len(results) != 3 {
		t.Fatalf("unexpected results: %v", payload["results"])
	}
	second, ok := results[1].(map[string]any)
	if !ok || second["error"] == nil {
		t.Fatalf("expected inline error for entry 1, got %v", results[1])
	}
}

func TestHandleRunBatchEmpty(t *testing.T) {
	server, _ := newTestServer(t)

	rec := do(t, server, http.MethodPost, "/task/batch", `{"tasks":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestHandleHistoryEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := do(t, server, http.MethodPost, "/task", fmt.Sprintf(`{"job_name":"crow","query":"q%d"}`, i))
		if rec.Code != http.StatusCreated {
			t.Fatalf("submit %d failed: %d", i, rec.Code)
		}
	}

	rec := do(t, server, http.MethodGet, "/tasks?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	payload := decode(t, rec)
	if payload["count"] != float64(2) {
		t.Fatalf("expected 2 submissions, got %v", payload["count"])
	}

	rec = do(t, server, http.MethodGet, "/tasks/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	payload = decode(t, rec)
	stats, ok := payload["stats"].(map[string]any)
	if !ok || stats["total"] != float64(3) {
		t.Fatalf("unexpected stats: %v", payload["stats"])
	}
}

func TestBearerAuth(t *testing.T) {
	server, _ := newTestServer(t, WithAuthToken("secret"))

	t.Run("health is exempt", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/health", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/jobs", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
	})
}

func TestRequestIDHeader(t *testing.T) {
	server, _ := newTestServer(t)

	rec := do(t, server, http.MethodGet, "/health", "")
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "given-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "given-id" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}
