package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/pixelmix/internal/domain"
)

var (
	_ JobStore   = (*MemoryJobStore)(nil)
	_ UsageStore = (*MemoryJobStore)(nil)
	_ JobStore   = (*PostgresJobStore)(nil)
	_ UsageStore = (*PostgresJobStore)(nil)
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	job := domain.Job{ID: "job-1", Status: domain.JobStatusCreated, SourceType: domain.SourceTypeRemoteURL}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, job); err == nil {
		t.Fatal("expected duplicate create to fail")
	}

	got, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.JobStatusCreated {
		t.Fatalf("expected created status, got %s", got.Status)
	}

	updated, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusQueued)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != domain.JobStatusQueued || updated.UpdatedAt.IsZero() {
		t.Fatalf("unexpected updated job %+v", updated)
	}

	if _, err := s.UpdateStatus(ctx, "missing", domain.JobStatusQueued); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("expected missing job")
	}
}

func TestMemoryJobStoreHonoursCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryJobStore()
	if err := s.Create(ctx, domain.Job{ID: "job-1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryJobStoreUsageLogs(t *testing.T) {
	s := NewMemoryJobStore()
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := s.CreateUsageLog(context.Background(), domain.UsageLog{JobID: "a", Passthroughs: 1}); err != nil {
		t.Fatalf("create usage: %v", err)
	}
	if err := s.CreateUsageLog(context.Background(), domain.UsageLog{JobID: "b", CreatedAt: stamp}); err != nil {
		t.Fatalf("create usage: %v", err)
	}

	logs := s.UsageLogs()
	if len(logs) != 2 {
		t.Fatalf("expected 2 usage logs, got %d", len(logs))
	}
	if logs[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to be filled in")
	}
	if !logs[1].CreatedAt.Equal(stamp) {
		t.Fatalf("expected explicit created_at to be kept, got %v", logs[1].CreatedAt)
	}
	if logs[0].Passthroughs != 1 {
		t.Fatalf("expected passthrough count 1, got %d", logs[0].Passthroughs)
	}
}
