package history

import (
	"context"

	xerrors "futurehouse-gateway/internal/errors"
)

// Status 表示本进程观察到的提交生命周期。真实的任务状态始终以远端为准，
// 这里只记录网关自身见证过的节点。
type Status string

const (
	// StatusSubmitted 表示任务已成功提交到远端。
	StatusSubmitted Status = "submitted"
	// StatusCompleted 表示本进程等到了任务成功结束。
	StatusCompleted Status = "completed"
	// StatusFailed 表示本进程等到了任务失败结束。
	StatusFailed Status = "failed"
)

// IsValidStatus 检查给定状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusSubmitted, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Submission 记录一次经由本网关发出的任务提交。
type Submission struct {
	TaskID    string `json:"task_id"`
	JobName   string `json:"job_name"`
	Query     string `json:"query"`
	BatchID   string `json:"batch_id,omitempty"`
	Status    Status `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// ErrNotFound 表示指定的提交记录不存在。
var ErrNotFound = xerrors.New(xerrors.CodeTaskNotFound, "submission not found")

// Store 抽象了提交历史的持久化接口。所有实现都必须是并发安全的。
type Store interface {
	Record(ctx context.Context, submission *Submission) error
	Get(ctx context.Context, taskID string) (*Submission, error)
	MarkOutcome(ctx context.Context, taskID string, status Status) error
	List(ctx context.Context, opts ListOptions) ([]*Submission, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合提交历史的统计信息，常用于仪表盘或健康检查。
type Stats struct {
	Total           int   `json:"total"`
	Submitted       int   `json:"submitted"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	OldestCreatedAt int64 `json:"oldest_created_at,omitempty"`
	NewestCreatedAt int64 `json:"newest_created_at,omitempty"`
}

func cloneSubmission(submission *Submission) *Submission {
	clone := *submission
	return &clone
}
