package history

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "futurehouse-gateway/internal/errors"
)

// MemoryStore 以内存方式保存提交历史，是默认后端，也用于测试。
// 超过容量上限时会淘汰最旧的记录。
type MemoryStore struct {
	mu          sync.RWMutex
	submissions map[string]*Submission
	maxEntries  int
}

// NewMemoryStore 创建 MemoryStore。maxEntries 小于等于 0 时使用默认容量。
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryStore{
		submissions: make(map[string]*Submission),
		maxEntries:  maxEntries,
	}
}

// Record 实现 Store 接口。
func (m *MemoryStore) Record(_ context.Context, submission *Submission) error {
	if submission == nil {
		return xerrors.New(xerrors.CodeValidation, "submission 不能为空")
	}
	if submission.TaskID == "" {
		return xerrors.New(xerrors.CodeValidation, "task_id 不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	clone := *submission
	if clone.CreatedAt == 0 {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	if clone.Status == "" {
		clone.Status = StatusSubmitted
	}
	m.submissions[clone.TaskID] = &clone
	m.evictLocked()
	return nil
}

// evictLocked 淘汰最旧的记录直到容量达标。调用方必须持有写锁。
func (m *MemoryStore) evictLocked() {
	for len(m.submissions) > m.maxEntries {
		oldestID := ""
		oldestAt := int64(0)
		for id, submission := range m.submissions {
			if oldestID == "" || submission.CreatedAt < oldestAt {
				oldestID = id
				oldestAt = submission.CreatedAt
			}
		}
		delete(m.submissions, oldestID)
	}
}

// Get 返回提交记录。
func (m *MemoryStore) Get(_ context.Context, taskID string) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	submission, ok := m.submissions[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSubmission(submission), nil
}

// MarkOutcome 记录本进程观察到的终态。
func (m *MemoryStore) MarkOutcome(_ context.Context, taskID string, status Status) error {
	if !IsValidStatus(status) {
		return xerrors.New(xerrors.CodeValidation, "不支持的提交状态")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	submission, ok := m.submissions[taskID]
	if !ok {
		return ErrNotFound
	}
	submission.Status = status
	submission.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的提交记录。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Submission, 0, len(m.submissions))
	for _, submission := range m.submissions {
		if !matchesListFilters(submission, opts) {
			continue
		}
		results = append(results, cloneSubmission(submission))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByCreatedAsc {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].TaskID < results[j].TaskID
			}
			return results[i].CreatedAt < results[j].CreatedAt
		}
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].TaskID < results[j].TaskID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的提交数量与时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, submission := range m.submissions {
		if !matchesListFilters(submission, opts) {
			continue
		}
		stats.Total++
		switch submission.Status {
		case StatusSubmitted:
			stats.Submitted++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
		if submission.CreatedAt > stats.NewestCreatedAt {
			stats.NewestCreatedAt = submission.CreatedAt
		}
		if stats.OldestCreatedAt == 0 || (submission.CreatedAt != 0 && submission.CreatedAt < stats.OldestCreatedAt) {
			stats.OldestCreatedAt = submission.CreatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestCreatedAt = 0
		stats.NewestCreatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(submission *Submission, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if submission.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.JobName != "" && submission.JobName != opts.JobName {
		return false
	}
	if opts.BatchID != "" && submission.BatchID != opts.BatchID {
		return false
	}
	if opts.CreatedGTE > 0 && submission.CreatedAt < opts.CreatedGTE {
		return false
	}
	if opts.CreatedLTE > 0 && submission.CreatedAt > opts.CreatedLTE {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
