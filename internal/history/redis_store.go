package history

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "futurehouse-gateway/internal/errors"
)

// RedisStoreConfig 描述 Redis 后端的连接参数。
type RedisStoreConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore 使用 Redis hash 保存提交记录，并用 sorted set 按创建时间索引。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建 Redis 后端实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "fhgw:submissions"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) entryKey(taskID string) string {
	return s.prefix + ":entry:" + taskID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

// Record 写入提交记录并更新时间索引。
func (s *RedisStore) Record(ctx context.Context, submission *Submission) error {
	if submission == nil {
		return xerrors.New(xerrors.CodeValidation, "submission 不能为空")
	}
	if submission.TaskID == "" {
		return xerrors.New(xerrors.CodeValidation, "task_id 不能为空")
	}

	now := time.Now().Unix()
	if submission.CreatedAt == 0 {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now
	if submission.Status == "" {
		submission.Status = StatusSubmitted
	}

	fields := map[string]any{
		"task_id":    submission.TaskID,
		"job_name":   submission.JobName,
		"query":      submission.Query,
		"batch_id":   submission.BatchID,
		"status":     string(submission.Status),
		"created_at": submission.CreatedAt,
		"updated_at": submission.UpdatedAt,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.entryKey(submission.TaskID), fields)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(submission.CreatedAt),
		Member: submission.TaskID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 提交记录失败")
	}
	return nil
}

// Get 返回提交记录。
func (s *RedisStore) Get(ctx context.Context, taskID string) (*Submission, error) {
	fields, err := s.client.HGetAll(ctx, s.entryKey(taskID)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 提交记录失败")
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return submissionFromFields(fields), nil
}

// MarkOutcome 记录本进程观察到的终态。
func (s *RedisStore) MarkOutcome(ctx context.Context, taskID string, status Status) error {
	if !IsValidStatus(status) {
		return xerrors.New(xerrors.CodeValidation, "不支持的提交状态")
	}
	exists, err := s.client.Exists(ctx, s.entryKey(taskID)).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "检查 Redis 提交记录失败")
	}
	if exists == 0 {
		return ErrNotFound
	}
	err = s.client.HSet(ctx, s.entryKey(taskID),
		"status", string(status),
		"updated_at", time.Now().Unix(),
	).Err()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新 Redis 提交状态失败")
	}
	return nil
}

// List 返回符合过滤条件的提交记录。过滤在客户端完成，索引只负责按时间排序。
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*Submission, error) {
	opts.applyDefaults()

	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if opts.CreatedGTE > 0 {
		rangeBy.Min = strconv.FormatInt(opts.CreatedGTE, 10)
	}
	if opts.CreatedLTE > 0 {
		rangeBy.Max = strconv.FormatInt(opts.CreatedLTE, 10)
	}

	var ids []string
	var err error
	if opts.Order == SortByCreatedAsc {
		ids, err = s.client.ZRangeByScore(ctx, s.indexKey(), rangeBy).Result()
	} else {
		ids, err = s.client.ZRevRangeByScore(ctx, s.indexKey(), rangeBy).Result()
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 Redis 提交索引失败")
	}

	results := make([]*Submission, 0, opts.Limit)
	for _, id := range ids {
		submission, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// 索引与记录可能短暂不一致，跳过即可。
				continue
			}
			return nil, err
		}
		if !matchesListFilters(submission, opts) {
			continue
		}
		results = append(results, submission)
		if len(results) >= opts.Limit {
			break
		}
	}
	return results, nil
}

// Stats 统计符合过滤条件的提交数量与时间范围。
func (s *RedisStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 Redis 提交索引失败")
	}

	stats := Stats{}
	for _, id := range ids {
		submission, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return Stats{}, err
		}
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
	return stats, nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func submissionFromFields(fields map[string]string) *Submission {
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return &Submission{
		TaskID:    fields["task_id"],
		JobName:   fields["job_name"],
		Query:     fields["query"],
		BatchID:   fields["batch_id"],
		Status:    Status(fields["status"]),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

var _ Store = (*RedisStore)(nil)
