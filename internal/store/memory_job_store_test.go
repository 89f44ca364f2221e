package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/pixelaug/internal/domain"
)

var (
	_ JobStore = (*MemoryJobStore)(nil)
	_ JobStore = (*PostgresJobStore)(nil)
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	job := domain.Job{
		ID:      "job-1",
		Status:  domain.JobStatusCreated,
		Sources: []string{"a.png", "b.png"},
		Total:   2,
	}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("expected stored job, ok=%v err=%v", ok, err)
	}
	got.Sources[0] = "mutated.png"
	again, _, _ := s.Get(ctx, "job-1")
	if again.Sources[0] != "a.png" {
		t.Fatal("expected stored job to be isolated from caller mutation")
	}

	if _, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusProcessing); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := s.UpdateProgress(ctx, "job-1", 1, 1); err != nil {
		t.Fatalf("update progress: %v", err)
	}

	outputs := []domain.JobOutput{
		{Source: "a.png", Success: true, Location: "out/000_a_v00.png", Format: "png"},
		{Source: "b.png", Error: "decode source image: bad header"},
	}
	done, err := s.Finish(ctx, "job-1", domain.JobStatusSucceeded, "", outputs)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Status != domain.JobStatusSucceeded || done.Processed != 1 || done.Failed != 1 {
		t.Fatalf("unexpected finished job: %+v", done)
	}
	if len(done.Outputs) != 2 || done.Outputs[0].Location != "out/000_a_v00.png" || done.Outputs[1].Success {
		t.Fatalf("unexpected stored outputs: %+v", done.Outputs)
	}
	outputs[0].Location = "mutated"
	stored, _, _ := s.Get(ctx, "job-1")
	if stored.Outputs[0].Location != "out/000_a_v00.png" {
		t.Fatal("expected stored outputs to be isolated from caller mutation")
	}
	if !done.UpdatedAt.Equal(s.now()) {
		t.Fatalf("expected updated_at to be stamped, got %v", done.UpdatedAt)
	}
}

func TestMemoryJobStoreMissingJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	if _, ok, err := s.Get(ctx, "nope"); ok || err != nil {
		t.Fatalf("expected missing job, ok=%v err=%v", ok, err)
	}
	if _, err := s.UpdateStatus(ctx, "nope", domain.JobStatusQueued); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := s.UpdateProgress(ctx, "nope", 1, 0); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestOpenWithoutDSNUsesMemory(t *testing.T) {
	s, closeFn, err := Open(context.Background(), "  ")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeFn()
	if _, ok := s.(*MemoryJobStore); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}
}
