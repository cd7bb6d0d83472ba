package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// SessionModel 数据库会话模型
type SessionModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Workspace     string `gorm:"index;size:64;not null;default:default"`
	Model         string `gorm:"size:128;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Summary       *string          `gorm:"type:text"`
	SummaryVector *pgvector.Vector `gorm:"type:vector(1024)"`
}

// TableName 指定表名
func (SessionModel) TableName() string {
	return "orchestrator_sessions"
}

// MessageModel 数据库消息模型
type MessageModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;size:64;not null"`
	Role      string `gorm:"size:16;not null"`
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName 指定表名
func (MessageModel) TableName() string {
	return "orchestrator_messages"
}

// DocumentModel 数据库文档模型
type DocumentModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	Workspace      string `gorm:"index;size:64;not null;default:default"`
	FileName       string `gorm:"size:512;not null"`
	ContentType    string `gorm:"size:128"`
	CompressedBlob []byte `gorm:"not null"`
	OriginalSize   int64  `gorm:"not null"`
	CreatedAt      time.Time
	Metadata       string `gorm:"type:jsonb;default:'{}'"` // JSON encoded metadata
}

// TableName 指定表名
func (DocumentModel) TableName() string {
	return "orchestrator_documents"
}

// IngestJobModel 数据库摄取作业模型
type IngestJobModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	DocID       string `gorm:"index;size:64;not null"`
	Workspace   string `gorm:"index;size:64;not null;default:default"`
	JobType     string `gorm:"size:16;not null;default:document"`
	Status      string `gorm:"index;size:16;not null;default:queued"`
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string `gorm:"type:text"`
	Result      string `gorm:"type:jsonb;default:'{}'"` // JSON encoded result
	Attempts    int    `gorm:"not null;default:0"`
}

// TableName 指定表名
func (IngestJobModel) TableName() string {
	return "orchestrator_ingest_jobs"
}
