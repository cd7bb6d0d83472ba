package persistence

import (
	"context"
	"testing"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/pkg/errors"
)

func TestMemoryJobRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and get job", func(t *testing.T) {
		repo := NewMemoryJobRepository()
		job := &entity.IngestJob{
			ID:        "job-1",
			DocID:     "doc-1",
			Workspace: "default",
			JobType:   entity.JobTypeDocument,
		}
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		got, err := repo.Get(ctx, "job-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != entity.JobStatusQueued {
			t.Errorf("expected status queued, got %s", got.Status)
		}
		if got.Attempts != 0 {
			t.Errorf("expected 0 attempts, got %d", got.Attempts)
		}
	})

	t.Run("Status transitions", func(t *testing.T) {
		repo := NewMemoryJobRepository()
		job := &entity.IngestJob{ID: "job-2", DocID: "doc-2", Workspace: "default", JobType: entity.JobTypeCodebase}
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if err := repo.MarkStarted(ctx, "job-2"); err != nil {
			t.Fatalf("MarkStarted failed: %v", err)
		}
		got, _ := repo.Get(ctx, "job-2")
		if got.Status != entity.JobStatusProcessing {
			t.Errorf("expected processing, got %s", got.Status)
		}
		if got.Attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", got.Attempts)
		}
		if got.StartedAt == nil {
			t.Error("expected started_at to be set")
		}

		if err := repo.MarkCompleted(ctx, "job-2", map[string]any{"files_found": 3}); err != nil {
			t.Fatalf("MarkCompleted failed: %v", err)
		}
		got, _ = repo.Get(ctx, "job-2")
		if got.Status != entity.JobStatusCompleted {
			t.Errorf("expected completed, got %s", got.Status)
		}
		if got.CompletedAt == nil {
			t.Error("expected completed_at to be set")
		}
	})

	t.Run("Fail then requeue", func(t *testing.T) {
		repo := NewMemoryJobRepository()
		job := &entity.IngestJob{ID: "job-3", DocID: "doc-3", Workspace: "default", JobType: entity.JobTypeDocument}
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		_ = repo.MarkStarted(ctx, "job-3")
		if err := repo.MarkFailed(ctx, "job-3", "upstream unreachable"); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}
		got, _ := repo.Get(ctx, "job-3")
		if got.Status != entity.JobStatusFailed {
			t.Errorf("expected failed, got %s", got.Status)
		}
		if got.Error != "upstream unreachable" {
			t.Errorf("unexpected error message: %s", got.Error)
		}

		if err := repo.ResetQueued(ctx, "job-3"); err != nil {
			t.Fatalf("ResetQueued failed: %v", err)
		}
		got, _ = repo.Get(ctx, "job-3")
		if got.Status != entity.JobStatusQueued {
			t.Errorf("expected queued, got %s", got.Status)
		}
		// attempts 保留, 不随重排清零
		if got.Attempts != 1 {
			t.Errorf("expected attempts preserved, got %d", got.Attempts)
		}
	})

	t.Run("List filtered by status", func(t *testing.T) {
		repo := NewMemoryJobRepository()
		_ = repo.Create(ctx, &entity.IngestJob{ID: "a", DocID: "d1", Workspace: "ws1", JobType: entity.JobTypeDocument})
		_ = repo.Create(ctx, &entity.IngestJob{ID: "b", DocID: "d2", Workspace: "ws1", JobType: entity.JobTypeDocument})
		_ = repo.Create(ctx, &entity.IngestJob{ID: "c", DocID: "d3", Workspace: "ws2", JobType: entity.JobTypeDocument})
		_ = repo.MarkStarted(ctx, "b")

		jobs, err := repo.List(ctx, "ws1", entity.JobStatusQueued, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(jobs) != 1 || jobs[0].ID != "a" {
			t.Errorf("expected only job a, got %d jobs", len(jobs))
		}
	})

	t.Run("Job not found", func(t *testing.T) {
		repo := NewMemoryJobRepository()
		_, err := repo.Get(ctx, "missing")
		if !errors.IsNotFound(err) {
			t.Errorf("expected not found error, got %v", err)
		}
		if err := repo.MarkStarted(ctx, "missing"); !errors.IsNotFound(err) {
			t.Errorf("expected not found error, got %v", err)
		}
	})
}

func TestMemorySessionRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Ensure is idempotent", func(t *testing.T) {
		repo := NewMemorySessionRepository()
		if err := repo.Ensure(ctx, "s1", "default", "qwen3"); err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}
		if err := repo.Ensure(ctx, "s1", "other", "other-model"); err != nil {
			t.Fatalf("second Ensure failed: %v", err)
		}

		got, err := repo.Get(ctx, "s1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		// 已存在的会话不被覆盖
		if got.Workspace != "default" {
			t.Errorf("expected workspace default, got %s", got.Workspace)
		}
	})

	t.Run("SearchSimilar excludes self and unsummarized", func(t *testing.T) {
		repo := NewMemorySessionRepository()
		_ = repo.Ensure(ctx, "current", "ws", "m")
		_ = repo.Ensure(ctx, "summarized", "ws", "m")
		_ = repo.Ensure(ctx, "bare", "ws", "m")
		_ = repo.Ensure(ctx, "foreign", "other", "m")

		vec := []float32{1, 0, 0}
		_ = repo.UpdateSummary(ctx, "current", "current summary", vec)
		_ = repo.UpdateSummary(ctx, "summarized", "past summary", []float32{0.9, 0.1, 0})
		_ = repo.UpdateSummary(ctx, "foreign", "foreign summary", vec)

		hits, err := repo.SearchSimilar(ctx, "ws", vec, 3, "current")
		if err != nil {
			t.Fatalf("SearchSimilar failed: %v", err)
		}
		if len(hits) != 1 {
			t.Fatalf("expected 1 hit, got %d", len(hits))
		}
		if hits[0].SessionID != "summarized" {
			t.Errorf("expected hit summarized, got %s", hits[0].SessionID)
		}
		if hits[0].Similarity < 0.9 {
			t.Errorf("unexpected similarity %f", hits[0].Similarity)
		}
	})

	t.Run("Delete missing session", func(t *testing.T) {
		repo := NewMemorySessionRepository()
		if err := repo.Delete(ctx, "missing"); !errors.IsNotFound(err) {
			t.Errorf("expected not found error, got %v", err)
		}
	})
}
