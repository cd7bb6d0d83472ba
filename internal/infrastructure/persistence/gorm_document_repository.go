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

// GormDocumentRepository GORM 实现的文档仓储
type GormDocumentRepository struct {
	db *gorm.DB
}

// NewGormDocumentRepository 创建 GORM 文档仓储
func NewGormDocumentRepository(db *gorm.DB) repository.DocumentRepository {
	return &GormDocumentRepository{
		db: db,
	}
}

// Save 保存文档
func (r *GormDocumentRepository) Save(ctx context.Context, doc *entity.Document) error {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return domainErrors.NewInternalError("failed to encode document metadata: " + err.Error())
	}
	model := &models.DocumentModel{
		ID:             doc.ID,
		Workspace:      doc.Workspace,
		FileName:       doc.FileName,
		ContentType:    doc.ContentType,
		CompressedBlob: doc.CompressedBlob,
		OriginalSize:   doc.OriginalSize,
		CreatedAt:      doc.CreatedAt,
		Metadata:       string(metadata),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = r.db.NowFunc()
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save document: " + err.Error())
	}
	return nil
}

// Get 根据ID查找文档
func (r *GormDocumentRepository) Get(ctx context.Context, id string) (*entity.Document, error) {
	var model models.DocumentModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("document not found")
		}
		return nil, domainErrors.NewInternalError("failed to find document: " + err.Error())
	}

	doc := &entity.Document{
		ID:             model.ID,
		Workspace:      model.Workspace,
		FileName:       model.FileName,
		ContentType:    model.ContentType,
		CompressedBlob: model.CompressedBlob,
		OriginalSize:   model.OriginalSize,
		CreatedAt:      model.CreatedAt,
	}
	if model.Metadata != "" {
		if err := json.Unmarshal([]byte(model.Metadata), &doc.Metadata); err != nil {
			return nil, domainErrors.NewInternalError("failed to decode document metadata: " + err.Error())
		}
	}
	return doc, nil
}
