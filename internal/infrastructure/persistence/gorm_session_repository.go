package persistence

import (
	"context"
	"errors"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/internal/infrastructure/persistence/models"
	domainErrors "github.com/memflow/memflow/pkg/errors"
)

// GormSessionRepository GORM 实现的会话仓储
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GORM 会话仓储
func NewGormSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &GormSessionRepository{
		db: db,
	}
}

// Ensure 确保会话存在; 已存在时仅刷新 updated_at
func (r *GormSessionRepository) Ensure(ctx context.Context, id, workspace, model string) error {
	now := r.db.NowFunc()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{"updated_at": now}),
		}).
		Create(&models.SessionModel{
			ID:        id,
			Workspace: workspace,
			Model:     model,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error
	if err != nil {
		return domainErrors.NewInternalError("failed to ensure session: " + err.Error())
	}
	return nil
}

// Get 根据ID查找会话
func (r *GormSessionRepository) Get(ctx context.Context, id string) (*entity.Session, error) {
	var model models.SessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("session not found")
		}
		return nil, domainErrors.NewInternalError("failed to find session: " + err.Error())
	}
	return r.toEntity(&model), nil
}

// List 列出工作区内会话 (按 updated_at 倒序, 含消息数)
func (r *GormSessionRepository) List(ctx context.Context, workspace string, limit int) ([]*entity.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).
		Model(&models.SessionModel{}).
		Select(`orchestrator_sessions.*,
			(SELECT count(*) FROM orchestrator_messages m
			 WHERE m.session_id = orchestrator_sessions.id) AS turn_count`)
	if workspace != "" {
		query = query.Where("workspace = ?", workspace)
	}

	var rows []struct {
		models.SessionModel
		TurnCount int
	}
	if err := query.Order("updated_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to list sessions: " + err.Error())
	}

	sessions := make([]*entity.Session, 0, len(rows))
	for i := range rows {
		s := r.toEntity(&rows[i].SessionModel)
		s.TurnCount = rows[i].TurnCount
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Delete 删除会话及其消息
func (r *GormSessionRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.MessageModel{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.SessionModel{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainErrors.NewNotFoundError("session not found")
	}
	if err != nil {
		return domainErrors.NewInternalError("failed to delete session: " + err.Error())
	}
	return nil
}

// UpdateSummary 写入摘要及其向量, 同时刷新 updated_at
func (r *GormSessionRepository) UpdateSummary(ctx context.Context, id, summary string, vector []float32) error {
	vec := pgvector.NewVector(vector)
	err := r.db.WithContext(ctx).
		Model(&models.SessionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"summary":        summary,
			"summary_vector": &vec,
			"updated_at":     r.db.NowFunc(),
		}).Error
	if err != nil {
		return domainErrors.NewInternalError("failed to update session summary: " + err.Error())
	}
	return nil
}

// SearchSimilar 在工作区内按余弦相似度检索已摘要会话, 排除指定会话
func (r *GormSessionRepository) SearchSimilar(ctx context.Context, workspace string, queryVector []float32, topK int, excludeSessionID string) ([]entity.RecallHit, error) {
	if topK <= 0 {
		topK = 3
	}
	vec := pgvector.NewVector(queryVector)

	query := `SELECT id, summary, 1 - (summary_vector <=> ?) AS similarity
		FROM orchestrator_sessions
		WHERE workspace = ?
		  AND summary IS NOT NULL
		  AND summary_vector IS NOT NULL`
	args := []any{vec, workspace}
	if excludeSessionID != "" {
		query += " AND id <> ?"
		args = append(args, excludeSessionID)
	}
	query += " ORDER BY summary_vector <=> ? LIMIT ?"
	args = append(args, vec, topK)

	var rows []struct {
		ID         string
		Summary    string
		Similarity float64
	}
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to search sessions: " + err.Error())
	}

	hits := make([]entity.RecallHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, entity.RecallHit{
			SessionID:  row.ID,
			Summary:    row.Summary,
			Similarity: row.Similarity,
		})
	}
	return hits, nil
}

// 转换方法

func (r *GormSessionRepository) toEntity(model *models.SessionModel) *entity.Session {
	s := &entity.Session{
		ID:        model.ID,
		Workspace: model.Workspace,
		Model:     model.Model,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	if model.Summary != nil {
		s.Summary = *model.Summary
	}
	if model.SummaryVector != nil {
		s.SummaryVector = model.SummaryVector.Slice()
	}
	return s
}
