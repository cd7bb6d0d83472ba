package repository

import (
	"context"

	"github.com/memflow/memflow/internal/domain/entity"
)

// SessionRepository 会话仓储接口
type SessionRepository interface {
	// Ensure 确保会话存在; 已存在时仅刷新 updated_at
	Ensure(ctx context.Context, id, workspace, model string) error
	// Get 根据ID查找会话
	Get(ctx context.Context, id string) (*entity.Session, error)
	// List 列出工作区内会话 (按 updated_at 倒序, 含消息数)
	List(ctx context.Context, workspace string, limit int) ([]*entity.Session, error)
	// Delete 删除会话及其消息
	Delete(ctx context.Context, id string) error
	// UpdateSummary 写入摘要及其向量, 同时刷新 updated_at
	UpdateSummary(ctx context.Context, id, summary string, vector []float32) error
	// SearchSimilar 在工作区内按余弦相似度检索已摘要会话, 排除指定会话
	SearchSimilar(ctx context.Context, workspace string, queryVector []float32, topK int, excludeSessionID string) ([]entity.RecallHit, error)
}

// MessageRepository 消息仓储接口
type MessageRepository interface {
	// Append 追加一条消息 (插入顺序即持久化顺序)
	Append(ctx context.Context, sessionID string, role entity.Role, content string) error
	// ListBySession 按插入顺序返回会话全部消息
	ListBySession(ctx context.Context, sessionID string) ([]*entity.Message, error)
	// Count 统计会话消息数量
	Count(ctx context.Context, sessionID string) (int64, error)
}
