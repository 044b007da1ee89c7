package gateway

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	xerrors "futurehouse-gateway/internal/errors"
	"futurehouse-gateway/internal/futurehouse"
	"futurehouse-gateway/internal/history"
	"futurehouse-gateway/internal/jobs"
	"futurehouse-gateway/internal/notify"
	"futurehouse-gateway/pkg/logger"
)

// TaskRequest 描述调用方提交的一次任务请求。RuntimeConfig 原样透传给远端。
type TaskRequest struct {
	JobName       string         `json:"job_name"`
	Query         string         `json:"query"`
	TaskID        string         `json:"task_id,omitempty"`
	RuntimeConfig map[string]any `json:"runtime_config,omitempty"`
}

// Submission 是提交成功后返回的任务句柄，并回显提交内容。
type Submission struct {
	TaskID  string `json:"task_id"`
	JobName string `json:"job_name"`
	Query   string `json:"query"`
}

// StatusView 是远端任务状态的只读投影，不在本地缓存。
type StatusView struct {
	TaskID      string `json:"task_id"`
	TaskStatus  string `json:"task_status"`
	IsCompleted bool   `json:"is_completed"`
}

// ResultView 是远端任务结果的只读投影。任务未结束时 Pending 为 true。
type ResultView struct {
	TaskID     string                  `json:"task_id"`
	TaskStatus string                  `json:"task_status"`
	Pending    bool                    `json:"-"`
	Record     *futurehouse.TaskRecord `json:"result,omitempty"`
}

// Outcome 是一次运行到结束的任务的最终产出。
type Outcome struct {
	TaskID     string                  `json:"task_id"`
	JobName    string                  `json:"job_name"`
	Query      string                  `json:"query"`
	TaskStatus string                  `json:"task_status"`
	Response   *futurehouse.TaskRecord `json:"response,omitempty"`
}

// BatchOutcome 是批量执行中单个任务的结果，与输入顺序一一对应。
// Response 与 Error 二者必居其一。
type BatchOutcome struct {
	JobName   string                  `json:"job_name"`
	Query     string                  `json:"query"`
	TaskID    string                  `json:"task_id,omitempty"`
	Response  *futurehouse.TaskRecord `json:"response,omitempty"`
	Error     string                  `json:"error,omitempty"`
	ErrorCode string                  `json:"error_code,omitempty"`
}

// Succeeded 报告该条目是否成功。
func (o BatchOutcome) Succeeded() bool {
	return o.Error == ""
}

// Service 是任务网关的核心：校验请求、转发远端、翻译结果。
// 它自身不持有任何跨请求的可变状态。
type Service struct {
	client       futurehouse.API
	store        history.Store
	dispatcher   notify.Dispatcher
	batchWorkers int
	logger       *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithDispatcher 配置生命周期事件派发器。
func WithDispatcher(dispatcher notify.Dispatcher) Option {
	return func(s *Service) {
		if dispatcher != nil {
			s.dispatcher = dispatcher
		}
	}
}

// WithBatchWorkers 设置批量执行的并发上限。
func WithBatchWorkers(workers int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.batchWorkers = workers
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService 构造任务网关服务。store 为空时不记录提交历史。
func NewService(client futurehouse.API, store history.Store, opts ...Option) *Service {
	s := &Service{
		client:       client,
		store:        store,
		dispatcher:   notify.NopDispatcher{},
		batchWorkers: 8,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("gateway")
	}
	return s
}

// validate 校验并规范化请求。校验失败时不会发起任何远端调用。
func (s *Service) validate(req TaskRequest) (TaskRequest, error) {
	req.JobName = jobs.Normalize(req.JobName)
	req.Query = strings.TrimSpace(req.Query)
	req.TaskID = strings.TrimSpace(req.TaskID)

	if req.JobName == "" || req.Query == "" {
		return req, xerrors.New(xerrors.CodeValidation, "参数 job_name 和 query 不能为空")
	}
	if !jobs.Valid(req.JobName) {
		return req, xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("无效的 job_name: %s，可用值: %s", req.JobName, strings.Join(jobs.Names(), ", ")))
	}
	return req, nil
}

// Submit 将任务提交到远端并立即返回句柄。
func (s *Service) Submit(ctx context.Context, req TaskRequest) (*Submission, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	if s.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "远端客户端未初始化")
	}

	taskID, err := s.client.CreateTask(ctx, futurehouse.TaskSubmission{
		Name:          req.JobName,
		Query:         req.Query,
		TaskID:        req.TaskID,
		RuntimeConfig: req.RuntimeConfig,
	})
	if err != nil {
		return nil, wrapRemoteError(err, req.TaskID)
	}

	s.recordSubmission(ctx, taskID, req, "")
	s.dispatcher.Notify(ctx, notify.Event{
		Type:    notify.EventTaskSubmitted,
		TaskID:  taskID,
		JobName: req.JobName,
	})
	logger.Audit().Info("任务提交成功",
		slog.String("task_id", taskID),
		slog.String("job_name", req.JobName),
	)

	return &Submission{TaskID: taskID, JobName: req.JobName, Query: req.Query}, nil
}

// Status 读取远端任务的当前状态。状态始终实时透传，不做本地缓存。
func (s *Service) Status(ctx context.Context, taskID string) (*StatusView, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "task_id 不能为空")
	}
	if s.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "远端客户端未初始化")
	}

	status, err := s.client.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, wrapRemoteError(err, taskID)
	}
	return &StatusView{
		TaskID:      taskID,
		TaskStatus:  status,
		IsCompleted: futurehouse.IsTerminalStatus(status),
	}, nil
}

// Result 读取远端任务的最终结果。任务尚未结束时返回 Pending 视图。
func (s *Service) Result(ctx context.Context, taskID string, verbose bool) (*ResultView, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "task_id 不能为空")
	}
	if s.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "远端客户端未初始化")
	}

	status, err := s.client.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, wrapRemoteError(err, taskID)
	}
	if !futurehouse.IsTerminalStatus(status) {
		return &ResultView{TaskID: taskID, TaskStatus: status, Pending: true}, nil
	}

	record, err := s.client.GetTask(ctx, taskID, verbose)
	if err != nil {
		return nil, wrapRemoteError(err, taskID)
	}
	return &ResultView{TaskID: taskID, TaskStatus: status, Record: record}, nil
}

// Run 提交任务并阻塞等待远端执行结束，返回最终结果。
// 本方法不施加自己的超时，等待时长由 ctx 与远端共同决定。
func (s *Service) Run(ctx context.Context, req TaskRequest, verbose bool) (*Outcome, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	return s.runValidated(ctx, req, verbose, "")
}

// runValidated 执行一次已通过校验的提交加等待。batchID 非空时记入历史。
func (s *Service) runValidated(ctx context.Context, req TaskRequest, verbose bool, batchID string) (*Outcome, error) {
	if s.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "远端客户端未初始化")
	}

	taskID, err := s.client.CreateTask(ctx, futurehouse.TaskSubmission{
		Name:          req.JobName,
		Query:         req.Query,
		TaskID:        req.TaskID,
		RuntimeConfig: req.RuntimeConfig,
	})
	if err != nil {
		return nil, wrapRemoteError(err, req.TaskID)
	}
	s.recordSubmission(ctx, taskID, req, batchID)

	record, err := s.client.WaitForTask(ctx, taskID, verbose)
	if err != nil {
		s.markOutcome(ctx, taskID, history.StatusFailed)
		s.dispatcher.Notify(ctx, notify.Event{
			Type:    notify.EventTaskFailed,
			TaskID:  taskID,
			JobName: req.JobName,
			BatchID: batchID,
			Message: xerrors.MessageOf(err),
		})
		return nil, wrapRemoteError(err, taskID)
	}

	outcomeStatus := history.StatusCompleted
	eventType := notify.EventTaskCompleted
	if !futurehouse.IsSuccessStatus(record.Status) {
		outcomeStatus = history.StatusFailed
		eventType = notify.EventTaskFailed
	}
	s.markOutcome(ctx, taskID, outcomeStatus)
	s.dispatcher.Notify(ctx, notify.Event{
		Type:    eventType,
		TaskID:  taskID,
		JobName: req.JobName,
		BatchID: batchID,
	})
	logger.Audit().Info("任务执行结束",
		slog.String("task_id", taskID),
		slog.String("job_name", req.JobName),
		slog.String("task_status", record.Status),
		slog.String("batch_id", batchID),
	)

	return &Outcome{
		TaskID:     taskID,
		JobName:    req.JobName,
		Query:      req.Query,
		TaskStatus: record.Status,
		Response:   record,
	}, nil
}

// RunBatch 并发执行一组任务并等待全部结束。返回结果与输入顺序一一对应，
// 单个任务失败不影响其余任务。并发度受 batchWorkers 限制，总耗时约等于
// 最慢的单个任务，而不是所有任务之和。
func (s *Service) RunBatch(ctx context.Context, reqs []TaskRequest) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(reqs))
	if len(reqs) == 0 {
		return outcomes
	}

	batchID := uuid.NewString()
	workers := s.batchWorkers
	if workers > len(reqs) {
		workers = len(reqs)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				outcomes[idx] = s.runBatchEntry(ctx, reqs[idx], batchID)
			}
		}()
	}
	for idx := range reqs {
		indexes <- idx
	}
	close(indexes)
	wg.Wait()

	logger.Audit().Info("批量执行结束",
		slog.String("batch_id", batchID),
		slog.Int("count", len(reqs)),
	)
	return outcomes
}

func (s *Service) runBatchEntry(ctx context.Context, req TaskRequest, batchID string) BatchOutcome {
	outcome := BatchOutcome{
		JobName: jobs.Normalize(req.JobName),
		Query:   strings.TrimSpace(req.Query),
	}

	validated, err := s.validate(req)
	if err != nil {
		outcome.Error = xerrors.MessageOf(err)
		outcome.ErrorCode = string(xerrors.CodeOf(err))
		return outcome
	}

	result, err := s.runValidated(ctx, validated, false, batchID)
	if err != nil {
		outcome.Error = xerrors.MessageOf(err)
		outcome.ErrorCode = string(xerrors.CodeOf(err))
		return outcome
	}

	outcome.TaskID = result.TaskID
	outcome.Response = result.Response
	return outcome
}

// recordSubmission 把提交写入历史存储。历史只是簿记，写入失败不影响请求。
func (s *Service) recordSubmission(ctx context.Context, taskID string, req TaskRequest, batchID string) {
	if s.store == nil {
		return
	}
	err := s.store.Record(ctx, &history.Submission{
		TaskID:  taskID,
		JobName: req.JobName,
		Query:   req.Query,
		BatchID: batchID,
		Status:  history.StatusSubmitted,
	})
	if err != nil {
		s.logger.Warn("写入提交历史失败",
			slog.String("task_id", taskID),
			slog.Any("error", err),
		)
	}
}

func (s *Service) markOutcome(ctx context.Context, taskID string, status history.Status) {
	if s.store == nil {
		return
	}
	if err := s.store.MarkOutcome(ctx, taskID, status); err != nil && !stdErrors.Is(err, history.ErrNotFound) {
		s.logger.Warn("更新提交历史失败",
			slog.String("task_id", taskID),
			slog.Any("error", err),
		)
	}
}

// History 返回符合过滤条件的提交历史。
func (s *Service) History(ctx context.Context, opts ...history.ListOption) ([]*history.Submission, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提交历史未启用")
	}
	return s.store.List(ctx, history.BuildListOptions(opts))
}

// HistoryStats 返回提交历史的统计信息。
func (s *Service) HistoryStats(ctx context.Context, opts ...history.ListOption) (history.Stats, error) {
	if s.store == nil {
		return history.Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "提交历史未启用")
	}
	return s.store.Stats(ctx, history.BuildListOptions(opts))
}

// wrapRemoteError 将远端调用错误翻译成统一错误码。
// 远端 404 视为任务不存在，上下文超时视为远端超时，其余一律是上游失败。
func wrapRemoteError(err error, taskID string) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	opts := []xerrors.Option{}
	if taskID != "" {
		opts = append(opts, xerrors.WithMetadata("task_id", taskID))
	}
	switch {
	case futurehouse.IsNotFound(err):
		return xerrors.Wrap(xerrors.CodeTaskNotFound, err, "远端未找到指定任务", opts...)
	case stdErrors.Is(err, context.DeadlineExceeded):
		return xerrors.Wrap(xerrors.CodeUpstreamTimeout, err, "远端调用超时", opts...)
	default:
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "远端调用失败", opts...)
	}
}
