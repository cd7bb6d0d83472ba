package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/pkg/errors"
)

// MemoryDocumentRepository 内存实现的文档仓储（用于开发/测试）
type MemoryDocumentRepository struct {
	mu        sync.RWMutex
	documents map[string]*entity.Document
}

// NewMemoryDocumentRepository 创建内存文档仓储
func NewMemoryDocumentRepository() repository.DocumentRepository {
	return &MemoryDocumentRepository{
		documents: make(map[string]*entity.Document),
	}
}

// Save 保存文档
func (r *MemoryDocumentRepository) Save(ctx context.Context, doc *entity.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *doc
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	r.documents[doc.ID] = &copied
	return nil
}

// Get 根据ID查找文档
func (r *MemoryDocumentRepository) Get(ctx context.Context, id string) (*entity.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.documents[id]
	if !ok {
		return nil, errors.NewNotFoundError("document not found")
	}
	copied := *doc
	return &copied, nil
}
