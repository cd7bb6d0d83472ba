package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 200
)

// JobStatusResponse 作业状态响应
type JobStatusResponse struct {
	JobID       string         `json:"job_id"`
	DocID       string         `json:"doc_id"`
	Workspace   string         `json:"workspace"`
	JobType     string         `json:"job_type"`
	Status      string         `json:"status"`
	CreatedAt   string         `json:"created_at"`
	StartedAt   *string        `json:"started_at"`
	CompletedAt *string        `json:"completed_at"`
	Error       string         `json:"error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Attempts    int            `json:"attempts"`
}

// JobHandler 摄取作业查询
type JobHandler struct {
	jobs   repository.JobRepository
	logger *zap.Logger
}

// NewJobHandler 创建作业处理器
func NewJobHandler(jobs repository.JobRepository, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{
		jobs:   jobs,
		logger: logger.With(zap.String("component", "job-handler")),
	}
}

// GetJob handles GET /v1/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// ListJobs handles GET /v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	workspace := c.Query("workspace")
	status := entity.JobStatus(c.Query("status"))

	limit := defaultJobListLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxJobListLimit {
		limit = maxJobListLimit
	}

	jobs, err := h.jobs.List(c.Request.Context(), workspace, status, limit)
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		abortWithError(c, err)
		return
	}

	responses := make([]JobStatusResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, toJobResponse(job))
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  responses,
		"count": len(responses),
	})
}

func toJobResponse(job *entity.IngestJob) JobStatusResponse {
	return JobStatusResponse{
		JobID:       job.ID,
		DocID:       job.DocID,
		Workspace:   job.Workspace,
		JobType:     string(job.JobType),
		Status:      string(job.Status),
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		StartedAt:   formatTime(job.StartedAt),
		CompletedAt: formatTime(job.CompletedAt),
		Error:       job.Error,
		Result:      job.Result,
		Attempts:    job.Attempts,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(time.RFC3339)
	return &formatted
}
