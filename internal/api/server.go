package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "futurehouse-gateway/internal/errors"
	"futurehouse-gateway/internal/gateway"
	"futurehouse-gateway/internal/history"
	"futurehouse-gateway/internal/jobs"
)

const serviceName = "futurehouse-task-gateway"
const serviceVersion = "1.0.0"

// Server 负责暴露 REST 接口，供自动化平台驱动远端任务执行。
type Server struct {
	addr             string
	service          *gateway.Service
	authToken        string
	apiKeyConfigured bool
}

// ServerOption 定义可选配置。
type ServerOption func(*Server)

// WithAuthToken 要求除 /health 外的所有请求携带指定的 Bearer Token。
func WithAuthToken(token string) ServerOption {
	return func(s *Server) {
		s.authToken = strings.TrimSpace(token)
	}
}

// WithAPIKeyConfigured 控制健康检查中是否报告远端凭证已配置。
func WithAPIKeyConfigured(configured bool) ServerOption {
	return func(s *Server) {
		s.apiKeyConfigured = configured
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *gateway.Service, opts ...ServerOption) *Server {
	s := &Server{addr: addr, service: service}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回完整的路由表，测试可以直接驱动它。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", s.instrument("health", s.handleHealth))
	mux.Handle("/jobs", s.instrument("jobs", s.handleJobs))
	mux.Handle("/task", s.instrument("create_task", s.handleCreateTask))
	mux.Handle("/task/run", s.instrument("run_task", s.handleRunTask))
	mux.Handle("/task/batch", s.instrument("run_batch", s.handleRunBatch))
	mux.Handle("/task/", s.instrument("task_detail", s.handleTaskDetail))
	mux.Handle("/tasks", s.instrument("history", s.handleHistory))
	mux.Handle("/tasks/stats", s.instrument("history_stats", s.handleHistoryStats))
	return mux
}

// handleHealth 是存活探针，不依赖远端服务，进程存活即成功。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"service":            serviceName,
		"version":            serviceVersion,
		"api_key_configured": s.apiKeyConfigured,
	})
}

// handleJobs 返回固定的智能体清单，不访问远端。
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"jobs":   jobs.All(),
	})
}

// handleCreateTask 处理任务提交，立即返回远端签发的句柄。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req gateway.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeValidation, "请求体解析失败"))
		return
	}

	submission, err := s.service.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":   "success",
		"task_id":  submission.TaskID,
		"job_name": submission.JobName,
		"query":    submission.Query,
		"message":  "任务创建成功，可通过 /task/{task_id}/status 跟踪进度",
	})
}

// handleTaskDetail 处理 /task/{id}/status 与 /task/{id}/result。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/task/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, xerrors.New(xerrors.CodeValidation, "路径格式应为 /task/{task_id}/status 或 /task/{task_id}/result"))
		return
	}
	taskID, action := parts[0], parts[1]

	switch action {
	case "status":
		view, err := s.service.Status(r.Context(), taskID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "success",
			"task_id":      view.TaskID,
			"task_status":  view.TaskStatus,
			"is_completed": view.IsCompleted,
		})
	case "result":
		verbose := strings.EqualFold(r.URL.Query().Get("verbose"), "true")
		view, err := s.service.Result(r.Context(), taskID, verbose)
		if err != nil {
			writeError(w, err)
			return
		}
		if view.Pending {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"status":      "pending",
				"task_id":     view.TaskID,
				"task_status": view.TaskStatus,
				"message":     "任务尚未结束，请稍后重试",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "success",
			"task_id":     view.TaskID,
			"task_status": view.TaskStatus,
			"result":      view.Record,
		})
	default:
		writeError(w, xerrors.New(xerrors.CodeValidation, "不支持的子资源: "+action))
	}
}

// handleRunTask 提交任务并阻塞等待执行结束。
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		gateway.TaskRequest
		Verbose bool `json:"verbose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeValidation, "请求体解析失败"))
		return
	}

	outcome, err := s.service.Run(r.Context(), req.TaskRequest, req.Verbose)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"task_id":     outcome.TaskID,
		"job_name":    outcome.JobName,
		"query":       outcome.Query,
		"task_status": outcome.TaskStatus,
		"response":    outcome.Response,
		"message":     "任务执行成功",
	})
}

// handleRunBatch 并发执行一组任务。HTTP 层面总是成功，
// 单个任务的失败在对应条目中内联返回。
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Tasks []gateway.TaskRequest `json:"tasks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeValidation, "请求体解析失败"))
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, xerrors.New(xerrors.CodeValidation, "参数 tasks 不能为空"))
		return
	}

	outcomes := s.service.RunBatch(r.Context(), req.Tasks)
	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Succeeded() {
			succeeded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"results":   outcomes,
		"count":     len(outcomes),
		"succeeded": succeeded,
	})
}

// handleHistory 返回经由本网关提交的任务历史。
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	opts := historyOptionsFromQuery(r)
	submissions, err := s.service.History(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"submissions": submissions,
		"count":       len(submissions),
	})
}

// handleHistoryStats 返回提交历史的统计信息。
func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	opts := historyOptionsFromQuery(r)
	stats, err := s.service.HistoryStats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"stats":  stats,
	})
}

func historyOptionsFromQuery(r *http.Request) []history.ListOption {
	query := r.URL.Query()
	opts := make([]history.ListOption, 0, 4)
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, history.WithLimit(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]history.Status, 0, 3)
		for _, value := range strings.Split(raw, ",") {
			statuses = append(statuses, history.Status(strings.TrimSpace(value)))
		}
		opts = append(opts, history.WithStatuses(statuses...))
	}
	if job := query.Get("job"); job != "" {
		opts = append(opts, history.WithJob(job))
	}
	if batch := query.Get("batch"); batch != "" {
		opts = append(opts, history.WithBatch(batch))
	}
	if strings.EqualFold(query.Get("order"), "asc") {
		opts = append(opts, history.WithSortOrder(history.SortByCreatedAsc))
	}
	return opts
}

// writeJSON 输出 JSON 响应。
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 将统一错误码翻译成 HTTP 状态与错误响应体。
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]any{
		"error":   true,
		"status":  "error",
		"code":    string(xerrors.CodeOf(err)),
		"message": xerrors.MessageOf(err),
	})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
		"error":   true,
		"status":  "error",
		"message": "不支持的 HTTP 方法",
	})
}

// statusOf 把错误码映射为 HTTP 状态码：400 校验失败、404 任务不存在、
// 502/504 上游失败、503 未初始化、其余 500。
func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeValidation:
		return http.StatusBadRequest
	case xerrors.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeUpstreamFailure:
		return http.StatusBadGateway
	case xerrors.CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
