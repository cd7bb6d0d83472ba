package handlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	appErrors "github.com/memflow/memflow/pkg/errors"
)

// JobPublisher 作业消息发布接口
type JobPublisher interface {
	Publish(ctx context.Context, jobType entity.JobType, jobID string) error
}

// DocumentHandler 文档/代码库上传与下载
type DocumentHandler struct {
	documents repository.DocumentRepository
	jobs      repository.JobRepository
	publisher JobPublisher
	logger    *zap.Logger
}

// NewDocumentHandler 创建文档处理器
func NewDocumentHandler(documents repository.DocumentRepository, jobs repository.JobRepository, publisher JobPublisher, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{
		documents: documents,
		jobs:      jobs,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "document-handler")),
	}
}

// IngestDocument handles POST /v1/documents/ingest
func (h *DocumentHandler) IngestDocument(c *gin.Context) {
	h.ingest(c, entity.JobTypeDocument, "unknown", nil)
}

// IngestCodebase handles POST /v1/codebase/ingest
func (h *DocumentHandler) IngestCodebase(c *gin.Context) {
	h.ingest(c, entity.JobTypeCodebase, "codebase.tar.gz", map[string]any{"type": "codebase"})
}

// ingest 存储上传内容为gzip压缩blob, 建作业行并发布队列消息
func (h *DocumentHandler) ingest(c *gin.Context, jobType entity.JobType, defaultName string, metadata map[string]any) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, appErrors.NewInvalidInputError("missing file field: "+err.Error()))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, appErrors.NewInvalidInputError("failed to open upload: "+err.Error()))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, appErrors.NewInternalError("failed to read upload: "+err.Error()))
		return
	}

	workspace := c.GetHeader("X-Workspace")
	if workspace == "" {
		workspace = "default"
	}
	fileName := fileHeader.Filename
	if fileName == "" {
		fileName = defaultName
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" && jobType == entity.JobTypeCodebase {
		contentType = "application/gzip"
	}

	compressed := gzipCompress(content)
	docID := uuid.NewString()
	jobID := uuid.NewString()
	ctx := c.Request.Context()

	doc := &entity.Document{
		ID:             docID,
		Workspace:      workspace,
		FileName:       fileName,
		ContentType:    contentType,
		CompressedBlob: compressed,
		OriginalSize:   int64(len(content)),
		Metadata:       metadata,
	}
	if err := h.documents.Save(ctx, doc); err != nil {
		h.logger.Error("failed to store document", zap.String("doc_id", docID), zap.Error(err))
		abortWithError(c, err)
		return
	}

	job := &entity.IngestJob{
		ID:        jobID,
		DocID:     docID,
		Workspace: workspace,
		JobType:   jobType,
		Status:    entity.JobStatusQueued,
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		h.logger.Error("failed to create job", zap.String("job_id", jobID), zap.Error(err))
		abortWithError(c, err)
		return
	}

	if err := h.publisher.Publish(ctx, jobType, jobID); err != nil {
		h.logger.Error("failed to publish job", zap.String("job_id", jobID), zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"doc_id":          docID,
		"job_id":          jobID,
		"file_name":       fileName,
		"workspace":       workspace,
		"original_size":   len(content),
		"compressed_size": len(compressed),
		"status":          "queued",
	})
}

// DownloadDocument handles GET /v1/documents/:id/download
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	content, err := gzipDecompress(doc.CompressedBlob)
	if err != nil {
		abortWithError(c, appErrors.NewInternalError("failed to decompress document: "+err.Error()))
		return
	}

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	c.Data(http.StatusOK, contentType, content)
}

func gzipCompress(data []byte) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write(data)
	_ = gz.Close()
	return buf.Bytes()
}

func gzipDecompress(blob []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
