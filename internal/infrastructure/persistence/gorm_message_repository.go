package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/internal/infrastructure/persistence/models"
	domainErrors "github.com/memflow/memflow/pkg/errors"
)

// GormMessageRepository GORM 实现的消息仓储
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建 GORM 消息仓储
func NewGormMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &GormMessageRepository{
		db: db,
	}
}

// Append 追加一条消息
func (r *GormMessageRepository) Append(ctx context.Context, sessionID string, role entity.Role, content string) error {
	model := &models.MessageModel{
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		CreatedAt: r.db.NowFunc(),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to append message: " + err.Error())
	}
	return nil
}

// ListBySession 按插入顺序返回会话全部消息
func (r *GormMessageRepository) ListBySession(ctx context.Context, sessionID string) ([]*entity.Message, error) {
	var rows []models.MessageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to find messages: " + err.Error())
	}

	messages := make([]*entity.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, r.toEntity(&rows[i]))
	}
	return messages, nil
}

// Count 统计会话消息数量
func (r *GormMessageRepository) Count(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, domainErrors.NewInternalError("failed to count messages: " + err.Error())
	}
	return count, nil
}

func (r *GormMessageRepository) toEntity(model *models.MessageModel) *entity.Message {
	return &entity.Message{
		ID:        model.ID,
		SessionID: model.SessionID,
		Role:      entity.Role(model.Role),
		Content:   model.Content,
		CreatedAt: model.CreatedAt,
	}
}
