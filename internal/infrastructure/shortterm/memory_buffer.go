package shortterm

import (
	"context"
	"sync"

	"github.com/memflow/memflow/internal/domain/entity"
)

// MemoryBuffer 内存实现的短期记忆缓冲（用于开发/测试）
// 不实现TTL过期
type MemoryBuffer struct {
	mu    sync.RWMutex
	turns map[string][]entity.Turn
}

// NewMemoryBuffer 创建内存短期记忆缓冲
func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{
		turns: make(map[string][]entity.Turn),
	}
}

var _ Buffer = (*MemoryBuffer)(nil)

// Append 追加对话轮
func (b *MemoryBuffer) Append(ctx context.Context, sessionID string, turns ...entity.Turn) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.turns[sessionID] = append(b.turns[sessionID], turns...)
	return nil
}

// History 返回缓冲中的全部对话轮
func (b *MemoryBuffer) History(ctx context.Context, sessionID string) ([]entity.Turn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stored := b.turns[sessionID]
	turns := make([]entity.Turn, len(stored))
	copy(turns, stored)
	return turns, nil
}

// Len 返回缓冲中的对话轮数量
func (b *MemoryBuffer) Len(ctx context.Context, sessionID string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return int64(len(b.turns[sessionID])), nil
}

// Delete 清空会话缓冲
func (b *MemoryBuffer) Delete(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.turns, sessionID)
	return nil
}
