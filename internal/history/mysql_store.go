package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "futurehouse-gateway/internal/errors"
)

// MySQLStore 使用 MySQL 记录提交历史。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS submissions (
        task_id VARCHAR(128) PRIMARY KEY,
        job_name VARCHAR(32) NOT NULL,
        query TEXT NOT NULL,
        batch_id VARCHAR(64) DEFAULT '',
        status VARCHAR(32) NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_submission_status (status),
        INDEX idx_submission_job (job_name),
        INDEX idx_submission_created (created_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 submissions 表失败")
	}
	return nil
}

// Record 插入新的提交记录。重复提交同一 task_id 时覆盖状态与时间。
func (s *MySQLStore) Record(ctx context.Context, submission *Submission) error {
	if submission == nil {
		return xerrors.New(xerrors.CodeValidation, "submission 不能为空")
	}
	if strings.TrimSpace(submission.TaskID) == "" {
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

	const stmt = `INSERT INTO submissions
        (task_id, job_name, query, batch_id, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status), updated_at = VALUES(updated_at)`

	_, err := s.db.ExecContext(ctx, stmt,
		submission.TaskID,
		submission.JobName,
		submission.Query,
		submission.BatchID,
		submission.Status,
		submission.CreatedAt,
		submission.UpdatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入提交记录失败")
	}
	return nil
}

// Get 返回提交记录。
func (s *MySQLStore) Get(ctx context.Context, taskID string) (*Submission, error) {
	const stmt = `SELECT task_id, job_name, query, batch_id, status, created_at, updated_at
        FROM submissions WHERE task_id = ?`

	row := s.db.QueryRowContext(ctx, stmt, taskID)
	submission, err := scanSubmission(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交记录失败")
	}
	return submission, nil
}

// MarkOutcome 记录本进程观察到的终态。
func (s *MySQLStore) MarkOutcome(ctx context.Context, taskID string, status Status) error {
	if !IsValidStatus(status) {
		return xerrors.New(xerrors.CodeValidation, "不支持的提交状态")
	}

	const stmt = `UPDATE submissions SET status = ?, updated_at = ? WHERE task_id = ?`
	result, err := s.db.ExecContext(ctx, stmt, status, time.Now().Unix(), taskID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新提交状态失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新结果失败")
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List 返回符合过滤条件的提交记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Submission, error) {
	opts.applyDefaults()

	where, args := buildWhere(opts)
	order := "DESC"
	if opts.Order == SortByCreatedAsc {
		order = "ASC"
	}
	stmt := fmt.Sprintf(`SELECT task_id, job_name, query, batch_id, status, created_at, updated_at
        FROM submissions %s ORDER BY created_at %s, task_id ASC LIMIT ?`, where, order)
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交列表失败")
	}
	defer rows.Close()

	results := make([]*Submission, 0, opts.Limit)
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描提交记录失败")
		}
		results = append(results, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历提交记录失败")
	}
	return results, nil
}

// Stats 统计符合过滤条件的提交数量与时间范围。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	where, args := buildWhere(opts)
	stmt := fmt.Sprintf(`SELECT status, COUNT(*), MIN(created_at), MAX(created_at)
        FROM submissions %s GROUP BY status`, where)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计提交记录失败")
	}
	defer rows.Close()

	stats := Stats{}
	for rows.Next() {
		var status Status
		var count int
		var oldest, newest sql.NullInt64
		if err := rows.Scan(&status, &count, &oldest, &newest); err != nil {
			return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描统计结果失败")
		}
		stats.Total += count
		switch status {
		case StatusSubmitted:
			stats.Submitted += count
		case StatusCompleted:
			stats.Completed += count
		case StatusFailed:
			stats.Failed += count
		}
		if oldest.Valid && (stats.OldestCreatedAt == 0 || oldest.Int64 < stats.OldestCreatedAt) {
			stats.OldestCreatedAt = oldest.Int64
		}
		if newest.Valid && newest.Int64 > stats.NewestCreatedAt {
			stats.NewestCreatedAt = newest.Int64
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历统计结果失败")
	}
	return stats, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildWhere(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 4)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, status)
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.JobName != "" {
		conditions = append(conditions, "job_name = ?")
		args = append(args, opts.JobName)
	}
	if opts.BatchID != "" {
		conditions = append(conditions, "batch_id = ?")
		args = append(args, opts.BatchID)
	}
	if opts.CreatedGTE > 0 {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.CreatedGTE)
	}
	if opts.CreatedLTE > 0 {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.CreatedLTE)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var submission Submission
	err := row.Scan(
		&submission.TaskID,
		&submission.JobName,
		&submission.Query,
		&submission.BatchID,
		&submission.Status,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

var _ Store = (*MySQLStore)(nil)
