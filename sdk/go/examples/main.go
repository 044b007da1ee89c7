package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"futurehouse-gateway/sdk/go/fhgateway"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"jobs": []fhgateway.Job{
				{Name: "CROW", Description: "literature search", UseCase: "general science questions"},
				{Name: "DUMMY", Description: "test job", UseCase: "development"},
			},
		})
	})
	mux.HandleFunc("/task", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "success",
			"task_id":  "task-demo",
			"job_name": "CROW",
			"query":    "what is CRISPR",
		})
	})
	mux.HandleFunc("/task/task-demo/status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       "success",
			"task_id":      "task-demo",
			"task_status":  "success",
			"is_completed": true,
		})
	})
	mux.HandleFunc("/task/task-demo/result", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "success",
			"task_id":     "task-demo",
			"task_status": "success",
			"result": map[string]any{
				"task_id": "task-demo",
				"status":  "success",
				"result":  map[string]any{"answer": "a genome editing technology"},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := fhgateway.NewClient(srv.URL)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobs, err := client.Jobs(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("available jobs: %d\n", len(jobs))

	submission, err := client.SubmitTask(ctx, fhgateway.TaskRequest{JobName: "CROW", Query: "what is CRISPR"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted task %s\n", submission.TaskID)

	status, err := client.TaskStatus(ctx, submission.TaskID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task status %s (completed=%v)\n", status.TaskStatus, status.IsCompleted)

	result, err := client.TaskResult(ctx, submission.TaskID, false)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task result: %v\n", result.Result)
}
