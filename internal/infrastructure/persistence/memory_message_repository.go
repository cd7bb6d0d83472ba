package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
)

// MemoryMessageRepository 内存实现的消息仓储（用于开发/测试）
type MemoryMessageRepository struct {
	mu sync.RWMutex
	// 会话ID到消息列表的映射, 按插入顺序
	messages map[string][]*entity.Message
	nextID   int64
}

// NewMemoryMessageRepository 创建内存消息仓储
func NewMemoryMessageRepository() repository.MessageRepository {
	return &MemoryMessageRepository{
		messages: make(map[string][]*entity.Message),
	}
}

// Append 追加一条消息
func (r *MemoryMessageRepository) Append(ctx context.Context, sessionID string, role entity.Role, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.messages[sessionID] = append(r.messages[sessionID], &entity.Message{
		ID:        r.nextID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// ListBySession 按插入顺序返回会话全部消息
func (r *MemoryMessageRepository) ListBySession(ctx context.Context, sessionID string) ([]*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.messages[sessionID]
	messages := make([]*entity.Message, 0, len(stored))
	for _, m := range stored {
		copied := *m
		messages = append(messages, &copied)
	}
	return messages, nil
}

// Count 统计会话消息数量
func (r *MemoryMessageRepository) Count(ctx context.Context, sessionID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.messages[sessionID])), nil
}
