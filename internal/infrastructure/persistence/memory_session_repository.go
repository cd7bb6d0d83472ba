package persistence

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/pkg/errors"
)

// MemorySessionRepository 内存实现的会话仓储（用于开发/测试）
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entity.Session
	// 会话ID到消息数的映射, 由关联的消息仓储维护
	counts map[string]int
}

// NewMemorySessionRepository 创建内存会话仓储
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*entity.Session),
		counts:   make(map[string]int),
	}
}

var _ repository.SessionRepository = (*MemorySessionRepository)(nil)

// Ensure 确保会话存在
func (r *MemorySessionRepository) Ensure(ctx context.Context, id, workspace, model string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := r.sessions[id]; ok {
		existing.UpdatedAt = now
		return nil
	}
	r.sessions[id] = &entity.Session{
		ID:        id,
		Workspace: workspace,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Get 根据ID查找会话
func (r *MemorySessionRepository) Get(ctx context.Context, id string) (*entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, errors.NewNotFoundError("session not found")
	}
	copied := *session
	return &copied, nil
}

// List 列出工作区内会话
func (r *MemorySessionRepository) List(ctx context.Context, workspace string, limit int) ([]*entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	sessions := make([]*entity.Session, 0)
	for _, s := range r.sessions {
		if workspace != "" && s.Workspace != workspace {
			continue
		}
		copied := *s
		copied.TurnCount = r.counts[s.ID]
		sessions = append(sessions, &copied)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// Delete 删除会话
func (r *MemorySessionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return errors.NewNotFoundError("session not found")
	}
	delete(r.sessions, id)
	delete(r.counts, id)
	return nil
}

// UpdateSummary 写入摘要及其向量
func (r *MemorySessionRepository) UpdateSummary(ctx context.Context, id, summary string, vector []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return errors.NewNotFoundError("session not found")
	}
	session.Summary = summary
	session.SummaryVector = vector
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// SearchSimilar 在工作区内按余弦相似度检索已摘要会话
func (r *MemorySessionRepository) SearchSimilar(ctx context.Context, workspace string, queryVector []float32, topK int, excludeSessionID string) ([]entity.RecallHit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if topK <= 0 {
		topK = 3
	}

	hits := make([]entity.RecallHit, 0)
	for _, s := range r.sessions {
		if s.Workspace != workspace || s.ID == excludeSessionID {
			continue
		}
		if !s.HasSummary() || len(s.SummaryVector) == 0 {
			continue
		}
		hits = append(hits, entity.RecallHit{
			SessionID:  s.ID,
			Summary:    s.Summary,
			Similarity: cosineSimilarity(queryVector, s.SummaryVector),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// SetTurnCount 设置会话消息数 (仅测试用)
func (r *MemorySessionRepository) SetTurnCount(id string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[id] = count
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
