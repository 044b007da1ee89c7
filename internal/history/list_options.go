package history

import (
	"strings"
	"time"
)

// SortOrder defines how results should be ordered when listing submissions.
type SortOrder int

const (
	// SortByCreatedDesc orders submissions by CreatedAt descending (most recent first).
	SortByCreatedDesc SortOrder = iota
	// SortByCreatedAsc orders submissions by CreatedAt ascending (oldest first).
	SortByCreatedAsc
)

// ListOptions controls how submissions are selected when querying the store.
type ListOptions struct {
	Limit      int
	Statuses   []Status
	JobName    string
	BatchID    string
	CreatedGTE int64
	CreatedLTE int64
	Order      SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByCreatedAsc {
		opts.Order = SortByCreatedDesc
	}
	opts.JobName = strings.ToUpper(strings.TrimSpace(opts.JobName))
	opts.BatchID = strings.TrimSpace(opts.BatchID)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of submissions returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithStatuses filters submissions by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithJob filters submissions by agent name.
func WithJob(jobName string) ListOption {
	return func(opts *ListOptions) {
		opts.JobName = jobName
	}
}

// WithBatch filters submissions belonging to one batch execution.
func WithBatch(batchID string) ListOption {
	return func(opts *ListOptions) {
		opts.BatchID = batchID
	}
}

// WithCreatedSince filters submissions created after the provided instant (inclusive).
func WithCreatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.CreatedGTE = 0
			return
		}
		opts.CreatedGTE = ts.Unix()
	}
}

// WithCreatedUntil filters submissions created before the provided instant (inclusive).
func WithCreatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.CreatedLTE = 0
			return
		}
		opts.CreatedLTE = ts.Unix()
	}
}

// WithSortOrder changes the returned order of submissions.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
