package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/pkg/errors"
)

// MemoryJobRepository 内存实现的摄取作业仓储（用于开发/测试）
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*entity.IngestJob
}

// NewMemoryJobRepository 创建内存作业仓储
func NewMemoryJobRepository() repository.JobRepository {
	return &MemoryJobRepository{
		jobs: make(map[string]*entity.IngestJob),
	}
}

// Create 创建作业行
func (r *MemoryJobRepository) Create(ctx context.Context, job *entity.IngestJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *job
	if copied.Status == "" {
		copied.Status = entity.JobStatusQueued
	}
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	r.jobs[job.ID] = &copied
	return nil
}

// Get 根据ID查找作业
func (r *MemoryJobRepository) Get(ctx context.Context, id string) (*entity.IngestJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError("job not found")
	}
	copied := *job
	return &copied, nil
}

// List 按条件列出作业
func (r *MemoryJobRepository) List(ctx context.Context, workspace string, status entity.JobStatus, limit int) ([]*entity.IngestJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	jobs := make([]*entity.IngestJob, 0)
	for _, j := range r.jobs {
		if workspace != "" && j.Workspace != workspace {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		copied := *j
		jobs = append(jobs, &copied)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// MarkStarted 置为 processing 并递增 attempts
func (r *MemoryJobRepository) MarkStarted(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return errors.NewNotFoundError("job not found")
	}
	now := time.Now().UTC()
	job.Status = entity.JobStatusProcessing
	job.StartedAt = &now
	job.Attempts++
	return nil
}

// MarkCompleted 置为 completed 并写入结果
func (r *MemoryJobRepository) MarkCompleted(ctx context.Context, id string, result map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return errors.NewNotFoundError("job not found")
	}
	now := time.Now().UTC()
	job.Status = entity.JobStatusCompleted
	job.CompletedAt = &now
	job.Result = result
	job.Error = ""
	return nil
}

// MarkFailed 置为 failed 并记录错误
func (r *MemoryJobRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return errors.NewNotFoundError("job not found")
	}
	now := time.Now().UTC()
	job.Status = entity.JobStatusFailed
	job.CompletedAt = &now
	job.Error = errMsg
	return nil
}

// ResetQueued 重新置为 queued 以便重投递
func (r *MemoryJobRepository) ResetQueued(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return errors.NewNotFoundError("job not found")
	}
	job.Status = entity.JobStatusQueued
	return nil
}
