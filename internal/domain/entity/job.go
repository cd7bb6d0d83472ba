package entity

import "time"

// JobType 摄取作业类型
type JobType string

const (
	JobTypeDocument JobType = "document"
	JobTypeCodebase JobType = "codebase"
)

// JobStatus 摄取作业状态
//
//	queued --(fetch)--> processing --(success)--> completed
//	                      |                \--(fail, attempts<R)--> queued
//	                      \--(fail, attempts>=R)--> failed
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IngestJob 摄取作业行, 仅由 ingest worker 在处理期间修改
type IngestJob struct {
	ID          string
	DocID       string
	Workspace   string
	JobType     JobType
	Status      JobStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	Result      map[string]any
	Attempts    int
}
