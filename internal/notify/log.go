package notify

import (
	"context"
	"log/slog"

	"futurehouse-gateway/pkg/logger"
)

// LogNotifier 将事件写入审计日志，供没有消息中间件的部署使用。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier 创建 LogNotifier。logger 为空时使用审计日志。
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = logger.Audit()
	}
	return &LogNotifier{logger: l}
}

// Name 实现 Notifier 接口。
func (n *LogNotifier) Name() string {
	return "log"
}

// Notify 实现 Notifier 接口。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Info("task_event",
		slog.String("type", string(event.Type)),
		slog.String("task_id", event.TaskID),
		slog.String("job_name", event.JobName),
		slog.String("batch_id", event.BatchID),
		slog.String("message", event.Message),
		slog.Time("occurred_at", event.OccurredAt),
	)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
