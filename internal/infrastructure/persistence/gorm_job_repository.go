package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/internal/infrastructure/persistence/models"
	domainErrors "github.com/memflow/memflow/pkg/errors"
)

// GormJobRepository GORM 实现的摄取作业仓储
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository 创建 GORM 作业仓储
func NewGormJobRepository(db *gorm.DB) repository.JobRepository {
	return &GormJobRepository{
		db: db,
	}
}

// Create 创建作业行
func (r *GormJobRepository) Create(ctx context.Context, job *entity.IngestJob) error {
	result, err := json.Marshal(job.Result)
	if err != nil {
		return domainErrors.NewInternalError("failed to encode job result: " + err.Error())
	}
	model := &models.IngestJobModel{
		ID:        job.ID,
		DocID:     job.DocID,
		Workspace: job.Workspace,
		JobType:   string(job.JobType),
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
		Error:     job.Error,
		Result:    string(result),
		Attempts:  job.Attempts,
	}
	if model.Status == "" {
		model.Status = string(entity.JobStatusQueued)
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = r.db.NowFunc()
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to create job: " + err.Error())
	}
	return nil
}

// Get 根据ID查找作业
func (r *GormJobRepository) Get(ctx context.Context, id string) (*entity.IngestJob, error) {
	var model models.IngestJobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("job not found")
		}
		return nil, domainErrors.NewInternalError("failed to find job: " + err.Error())
	}
	return r.toEntity(&model)
}

// List 按条件列出作业
func (r *GormJobRepository) List(ctx context.Context, workspace string, status entity.JobStatus, limit int) ([]*entity.IngestJob, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Model(&models.IngestJobModel{})
	if workspace != "" {
		query = query.Where("workspace = ?", workspace)
	}
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	var rows []models.IngestJobModel
	if err := query.Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to list jobs: " + err.Error())
	}

	jobs := make([]*entity.IngestJob, 0, len(rows))
	for i := range rows {
		job, err := r.toEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MarkStarted 置为 processing 并递增 attempts
func (r *GormJobRepository) MarkStarted(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]any{
		"status":     string(entity.JobStatusProcessing),
		"started_at": r.db.NowFunc(),
		"attempts":   gorm.Expr("attempts + 1"),
	})
}

// MarkCompleted 置为 completed 并写入结果
func (r *GormJobRepository) MarkCompleted(ctx context.Context, id string, result map[string]any) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return domainErrors.NewInternalError("failed to encode job result: " + err.Error())
	}
	return r.update(ctx, id, map[string]any{
		"status":       string(entity.JobStatusCompleted),
		"completed_at": r.db.NowFunc(),
		"result":       string(encoded),
		"error":        "",
	})
}

// MarkFailed 置为 failed 并记录错误
func (r *GormJobRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.update(ctx, id, map[string]any{
		"status":       string(entity.JobStatusFailed),
		"completed_at": r.db.NowFunc(),
		"error":        errMsg,
	})
}

// ResetQueued 重新置为 queued 以便重投递
func (r *GormJobRepository) ResetQueued(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]any{
		"status": string(entity.JobStatusQueued),
	})
}

func (r *GormJobRepository) update(ctx context.Context, id string, fields map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.IngestJobModel{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to update job: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("job not found")
	}
	return nil
}

func (r *GormJobRepository) toEntity(model *models.IngestJobModel) (*entity.IngestJob, error) {
	job := &entity.IngestJob{
		ID:          model.ID,
		DocID:       model.DocID,
		Workspace:   model.Workspace,
		JobType:     entity.JobType(model.JobType),
		Status:      entity.JobStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		StartedAt:   model.StartedAt,
		CompletedAt: model.CompletedAt,
		Error:       model.Error,
		Attempts:    model.Attempts,
	}
	if model.Result != "" {
		if err := json.Unmarshal([]byte(model.Result), &job.Result); err != nil {
			return nil, domainErrors.NewInternalError("failed to decode job result: " + err.Error())
		}
	}
	return job, nil
}
