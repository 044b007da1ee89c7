package history

import (
	"context"
	"errors"
	"testing"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(0)
	ctx := context.Background()

	entries := []*Submission{
		{TaskID: "t1", JobName: "CROW", Query: "q1", CreatedAt: 100},
		{TaskID: "t2", JobName: "FALCON", Query: "q2", BatchID: "b1", CreatedAt: 200},
		{TaskID: "t3", JobName: "CROW", Query: "q3", BatchID: "b1", CreatedAt: 300},
	}
	for _, entry := range entries {
		if err := store.Record(ctx, entry); err != nil {
			t.Fatalf("record %s: %v", entry.TaskID, err)
		}
	}
	if err := store.MarkOutcome(ctx, "t2", StatusCompleted); err != nil {
		t.Fatalf("mark t2 completed: %v", err)
	}
	if err := store.MarkOutcome(ctx, "t3", StatusFailed); err != nil {
		t.Fatalf("mark t3 failed: %v", err)
	}
	return store
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(all))
	}
	if all[0].TaskID != "t3" {
		t.Fatalf("expected newest submission first, got %s", all[0].TaskID)
	}

	byStatus, err := store.List(ctx, ListOptions{Statuses: []Status{StatusCompleted}})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].TaskID != "t2" {
		t.Fatalf("unexpected status filter result: %+v", byStatus)
	}

	byJob, err := store.List(ctx, ListOptions{JobName: "CROW"})
	if err != nil {
		t.Fatalf("list by job: %v", err)
	}
	if len(byJob) != 2 {
		t.Fatalf("expected 2 CROW submissions, got %d", len(byJob))
	}

	byBatch, err := store.List(ctx, ListOptions{BatchID: "b1", Order: SortByCreatedAsc})
	if err != nil {
		t.Fatalf("list by batch: %v", err)
	}
	if len(byBatch) != 2 || byBatch[0].TaskID != "t2" {
		t.Fatalf("unexpected batch filter result: %+v", byBatch)
	}

	limited, err := store.List(ctx, ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(limited))
	}

	byRange, err := store.List(ctx, ListOptions{CreatedGTE: 150, CreatedLTE: 250})
	if err != nil {
		t.Fatalf("list by range: %v", err)
	}
	if len(byRange) != 1 || byRange[0].TaskID != "t2" {
		t.Fatalf("unexpected range filter result: %+v", byRange)
	}
}

func TestMemoryStoreGetAndMarkOutcome(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	submission, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get t1: %v", err)
	}
	if submission.Status != StatusSubmitted {
		t.Fatalf("unexpected status: %s", submission.Status)
	}

	// 返回的是副本，修改不应写回存储。
	submission.Status = StatusFailed
	again, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get t1 again: %v", err)
	}
	if again.Status != StatusSubmitted {
		t.Fatal("Get should return a copy")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.MarkOutcome(ctx, "missing", StatusCompleted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.MarkOutcome(ctx, "t1", Status("bogus")); err == nil {
		t.Fatal("expected invalid status to be rejected")
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := seedStore(t)

	stats, err := store.Stats(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Submitted != 1 || stats.Completed != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestCreatedAt != 100 || stats.NewestCreatedAt != 300 {
		t.Fatalf("unexpected stats time range: %+v", stats)
	}

	filtered, err := store.Stats(context.Background(), ListOptions{BatchID: "b1"})
	if err != nil {
		t.Fatalf("stats by batch: %v", err)
	}
	if filtered.Total != 2 || filtered.Submitted != 0 {
		t.Fatalf("unexpected filtered stats: %+v", filtered)
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	for i, id := range []string{"old", "mid", "new"} {
		err := store.Record(ctx, &Submission{TaskID: id, JobName: "CROW", Query: "q", CreatedAt: int64(100 + i)})
		if err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected oldest entry to be evicted, got %v", err)
	}
	if _, err := store.Get(ctx, "new"); err != nil {
		t.Fatalf("expected newest entry to survive: %v", err)
	}
}
