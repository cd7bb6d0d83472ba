package repository

import (
	"context"

	"github.com/memflow/memflow/internal/domain/entity"
)

// DocumentRepository 文档 blob 仓储接口
type DocumentRepository interface {
	// Save 保存文档 (入库后不可变)
	Save(ctx context.Context, doc *entity.Document) error
	// Get 根据ID查找文档
	Get(ctx context.Context, id string) (*entity.Document, error)
}

// JobRepository 摄取作业仓储接口
// 处理期间的状态迁移只由 ingest worker 调用
type JobRepository interface {
	// Create 创建 queued 状态的作业行
	Create(ctx context.Context, job *entity.IngestJob) error
	// Get 根据ID查找作业
	Get(ctx context.Context, id string) (*entity.IngestJob, error)
	// List 按条件列出作业 (created_at 倒序)
	List(ctx context.Context, workspace string, status entity.JobStatus, limit int) ([]*entity.IngestJob, error)
	// MarkStarted 置为 processing, 记录 started_at 并递增 attempts
	MarkStarted(ctx context.Context, id string) error
	// MarkCompleted 置为 completed 并写入结果
	MarkCompleted(ctx context.Context, id string, result map[string]any) error
	// MarkFailed 置为 failed 并记录错误
	MarkFailed(ctx context.Context, id string, errMsg string) error
	// ResetQueued 重新置为 queued 以便重投递
	ResetQueued(ctx context.Context, id string) error
}
