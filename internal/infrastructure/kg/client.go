package kg

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

const (
	// workspaceHeader 知识图谱服务的多租户隔离头
	workspaceHeader = "LIGHTRAG-WORKSPACE"

	maxEntities     = 30
	maxRelations    = 20
	maxChunks       = 5
	chunkTruncateAt = 500
)

// Client 知识图谱服务 (LightRAG) 的HTTP客户端
// 查询用短超时, 摄取用长超时 (图谱构建很慢)
type Client struct {
	baseURL      string
	queryClient  *http.Client
	ingestClient *http.Client
	logger       *zap.Logger
}

// NewClient 创建知识图谱客户端
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		queryClient:  &http.Client{Timeout: 15 * time.Second},
		ingestClient: &http.Client{Timeout: 300 * time.Second},
		logger:       logger,
	}
}

// Entity 图谱实体
type Entity struct {
	EntityName  string `json:"entity_name"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description"`
}

// Relation 图谱关系
type Relation struct {
	SrcID       string `json:"src_id"`
	TgtID       string `json:"tgt_id"`
	Description string `json:"description"`
}

// Chunk 图谱源文本片段
type Chunk struct {
	Content string `json:"content"`
}

// QueryResult /query/data 的结构化结果
type QueryResult struct {
	Entities      []Entity   `json:"entities"`
	Relationships []Relation `json:"relations"`
	Chunks        []Chunk    `json:"chunks"`
}

// Empty 判断结果是否不含任何内容
func (r *QueryResult) Empty() bool {
	return r == nil || (len(r.Entities) == 0 && len(r.Relationships) == 0 && len(r.Chunks) == 0)
}

// QueryData 查询结构化图谱上下文
// 任何失败都返回空结果而不是错误: 图谱不可用时对话照常进行
func (c *Client) QueryData(ctx context.Context, workspace, query, mode string) *QueryResult {
	payload, err := json.Marshal(map[string]string{
		"query": query,
		"mode":  mode,
	})
	if err != nil {
		return &QueryResult{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query/data", bytes.NewReader(payload))
	if err != nil {
		return &QueryResult{}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(workspaceHeader, workspace)

	resp, err := c.queryClient.Do(req)
	if err != nil {
		c.logger.Warn("knowledge graph query failed",
			zap.String("workspace", workspace),
			zap.Error(err),
		)
		return &QueryResult{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("knowledge graph query returned non-200",
			zap.String("workspace", workspace),
			zap.Int("status", resp.StatusCode),
		)
		return &QueryResult{}
	}

	// 回包可能包一层data, 也可能直接是结果体
	var envelope struct {
		QueryResult
		Data *QueryResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.logger.Warn("failed to decode knowledge graph response", zap.Error(err))
		return &QueryResult{}
	}
	if envelope.Data != nil {
		return envelope.Data
	}
	return &envelope.QueryResult
}

// IngestText 将文本送入图谱构建
func (c *Client) IngestText(ctx context.Context, workspace, text string) error {
	payload, err := json.Marshal(map[string]string{
		"text": text,
	})
	if err != nil {
		return domainErrors.NewInternalError("failed to encode ingest payload: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/text", bytes.NewReader(payload))
	if err != nil {
		return domainErrors.NewInternalError("failed to create ingest request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(workspaceHeader, workspace)

	resp, err := c.ingestClient.Do(req)
	if err != nil {
		return domainErrors.NewUpstreamError("knowledge graph unreachable", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domainErrors.NewUpstreamError(
			fmt.Sprintf("knowledge graph ingest returned status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode, nil,
		)
	}
	return nil
}

// UploadDocument 以multipart方式上传文件到图谱 (pdf等二进制文档)
func (c *Client) UploadDocument(ctx context.Context, workspace, fileName string, content io.Reader) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return domainErrors.NewInternalError("failed to create multipart form: " + err.Error())
	}
	if _, err := io.Copy(part, content); err != nil {
		return domainErrors.NewInternalError("failed to write multipart form: " + err.Error())
	}
	if err := writer.Close(); err != nil {
		return domainErrors.NewInternalError("failed to finalize multipart form: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/upload", &buf)
	if err != nil {
		return domainErrors.NewInternalError("failed to create upload request: " + err.Error())
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(workspaceHeader, workspace)

	resp, err := c.ingestClient.Do(req)
	if err != nil {
		return domainErrors.NewUpstreamError("knowledge graph unreachable", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domainErrors.NewUpstreamError(
			fmt.Sprintf("knowledge graph upload returned status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode, nil,
		)
	}
	return nil
}

// FormatContext 将结构化查询结果渲染为可注入提示词的文本块
// 实体/关系/片段分别截断到各自上限
func FormatContext(result *QueryResult) string {
	if result.Empty() {
		return ""
	}

	var parts []string

	if len(result.Entities) > 0 {
		entities := result.Entities
		if len(entities) > maxEntities {
			entities = entities[:maxEntities]
		}
		lines := make([]string, 0, len(entities))
		for _, e := range entities {
			if e.Description != "" {
				lines = append(lines, fmt.Sprintf("- [%s] %s: %s", e.EntityType, e.EntityName, e.Description))
			} else {
				lines = append(lines, fmt.Sprintf("- [%s] %s", e.EntityType, e.EntityName))
			}
		}
		parts = append(parts, "Entities:\n"+strings.Join(lines, "\n"))
	}

	if len(result.Relationships) > 0 {
		relations := result.Relationships
		if len(relations) > maxRelations {
			relations = relations[:maxRelations]
		}
		lines := make([]string, 0, len(relations))
		for _, r := range relations {
			desc := r.Description
			if desc == "" {
				desc = "relates to"
			}
			lines = append(lines, fmt.Sprintf("- %s -> %s: %s", r.SrcID, r.TgtID, desc))
		}
		parts = append(parts, "Relations:\n"+strings.Join(lines, "\n"))
	}

	if len(result.Chunks) > 0 {
		chunks := result.Chunks
		if len(chunks) > maxChunks {
			chunks = chunks[:maxChunks]
		}
		lines := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			content := chunk.Content
			if content == "" {
				continue
			}
			if len(content) > chunkTruncateAt {
				content = content[:chunkTruncateAt] + "..."
			}
			lines = append(lines, content)
		}
		if len(lines) > 0 {
			parts = append(parts, "Source context:\n"+strings.Join(lines, "\n---\n"))
		}
	}

	return strings.Join(parts, "\n\n")
}
