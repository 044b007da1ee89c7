package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"futurehouse-gateway/pkg/logger"
)

// EventType 表示任务生命周期事件的类型。
type EventType string

const (
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
)

// Event 描述一次需要对外广播的任务生命周期事件。
type Event struct {
	Type       EventType `json:"type"`
	TaskID     string    `json:"task_id"`
	JobName    string    `json:"job_name"`
	BatchID    string    `json:"batch_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier 负责将事件发送到某个具体渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。所有投递都是尽力而为：
// 通知失败绝不影响触发它的请求。
type Dispatcher interface {
	Notify(ctx context.Context, event Event)
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			set = append(set, n)
		}
	}
	return &FanoutDispatcher{
		notifiers: set,
		logger:    logger.Named("notify"),
	}
}

// Notify 依次投递事件，失败只记录日志。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("事件投递失败",
				slog.String("notifier", notifier.Name()),
				slog.String("event", string(event.Type)),
				slog.String("task_id", event.TaskID),
				slog.Any("error", err),
			)
		}
	}
}

// Close 关闭所有实现了 io.Closer 的通知器。
func (d *FanoutDispatcher) Close() error {
	if d == nil {
		return nil
	}
	var err error
	for _, notifier := range d.notifiers {
		if closer, ok := notifier.(interface{ Close() error }); ok {
			err = errors.Join(err, closer.Close())
		}
	}
	return err
}

// NopDispatcher 丢弃所有事件，是通知功能关闭时的默认实现。
type NopDispatcher struct{}

// Notify 实现 Dispatcher 接口。
func (NopDispatcher) Notify(context.Context, Event) {}

var (
	_ Dispatcher = (*FanoutDispatcher)(nil)
	_ Dispatcher = NopDispatcher{}
)
