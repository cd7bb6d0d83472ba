package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	domainErrors "github.com/memflow/memflow/pkg/errors"
)

// IngestResult 预处理器 /ingest 的响应
type IngestResult struct {
	Workspace      string   `json:"workspace"`
	FilesProcessed int      `json:"files_processed"`
	DocumentsSent  int      `json:"documents_sent"`
	Errors         []string `json:"errors"`
}

// PreprocessorClient 预处理器HTTP客户端
type PreprocessorClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewPreprocessorClient 创建预处理器客户端
// 图谱构建慢, 整批请求给300秒
func NewPreprocessorClient(baseURL string, logger *zap.Logger) *PreprocessorClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreprocessorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 300 * time.Second},
		logger:  logger,
	}
}

// Ingest 以multipart把一批文件送进预处理器
func (c *PreprocessorClient) Ingest(ctx context.Context, workspace string, files []ArchiveFile) (*IngestResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, file := range files {
		part, err := writer.CreateFormFile("files", file.Path)
		if err != nil {
			return nil, domainErrors.NewInternalError("failed to build multipart form: " + err.Error())
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, domainErrors.NewInternalError("failed to write multipart form: " + err.Error())
		}
	}
	if err := writer.Close(); err != nil {
		return nil, domainErrors.NewInternalError("failed to finalize multipart form: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ingest", &buf)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to create ingest request: " + err.Error())
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Workspace", workspace)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domainErrors.NewUpstreamError("preprocessor unreachable: "+err.Error(), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, domainErrors.NewUpstreamError(
			fmt.Sprintf("preprocessor returned status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode, nil,
		)
	}

	var result IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domainErrors.NewUpstreamFailedError("failed to decode preprocessor response", err)
	}
	return &result, nil
}
