package preproc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/extractor"
)

// docExtensions 直接转发知识图谱上传接口的文档类型
var docExtensions = map[string]bool{
	".pdf": true, ".md": true, ".txt": true,
	".rst": true, ".html": true, ".htm": true,
}

// recoveryExtensions 混合内容恢复: 正文里嵌的代码块单独提取解析
var recoveryExtensions = map[string]bool{
	".md": true, ".txt": true,
}

// GraphStore 知识图谱写入侧
type GraphStore interface {
	IngestText(ctx context.Context, workspace, text string) error
	UploadDocument(ctx context.Context, workspace, fileName string, content io.Reader) error
}

// IngestResponse /ingest 响应
type IngestResponse struct {
	Workspace      string   `json:"workspace"`
	FilesProcessed int      `json:"files_processed"`
	DocumentsSent  int      `json:"documents_sent"`
	Errors         []string `json:"errors"`
}

// Handler 代码预处理服务的HTTP处理器
type Handler struct {
	graph  GraphStore
	logger *zap.Logger
}

// NewHandler 创建预处理器
func NewHandler(graph GraphStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		graph:  graph,
		logger: logger.With(zap.String("component", "preprocessor")),
	}
}

// Parse handles POST /parse
// 单文件tree-sitter解析, 不支持的扩展名返回400
func (h *Handler) Parse(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field: " + err.Error()})
		return
	}
	filePath, content, err := readUpload(fileHeader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	language := extractor.DetectLanguage(filePath)
	if language == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported file type: %s", filePath)})
		return
	}

	result, err := extractor.ParseFile(c.Request.Context(), filePath, string(content), language)
	if err != nil {
		h.logger.Error("parse failed", zap.String("file", filePath), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ParseBatch handles POST /parse/batch
// 多文件解析, 不支持的文件直接跳过
func (h *Handler) ParseBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form: " + err.Error()})
		return
	}

	results := make([]*extractor.ParseResult, 0)
	for _, fileHeader := range form.File["files"] {
		filePath, content, err := readUpload(fileHeader)
		if err != nil {
			h.logger.Warn("skip unreadable upload", zap.String("file", fileHeader.Filename), zap.Error(err))
			continue
		}
		language := extractor.DetectLanguage(filePath)
		if language == "" {
			continue
		}
		result, err := extractor.ParseFile(c.Request.Context(), filePath, string(content), language)
		if err != nil {
			h.logger.Warn("skip unparseable file", zap.String("file", filePath), zap.Error(err))
			continue
		}
		results = append(results, result)
	}
	c.JSON(http.StatusOK, results)
}

// Ingest handles POST /ingest
//
// 统一摄取入口, 按扩展名路由:
//   - 代码文件: tree-sitter解析, 结构化文本送图谱
//   - 文档文件: 原样转发图谱上传接口; .md/.txt 额外恢复嵌入的代码块
//   - 其他: 尽力按文本送图谱
func (h *Handler) Ingest(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form: " + err.Error()})
		return
	}
	files := form.File["files"]

	workspace := c.GetHeader("X-Workspace")
	if workspace == "" {
		workspace = "default"
	}

	ctx := c.Request.Context()
	documentsSent := 0
	errs := make([]string, 0)

	for _, fileHeader := range files {
		filePath, content, err := readUpload(fileHeader)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", fileHeader.Filename, err))
			continue
		}
		ext := strings.ToLower(filepath.Ext(filePath))

		switch {
		case extractor.DetectLanguage(filePath) != "":
			sent, err := h.ingestCode(ctx, workspace, filePath, string(content))
			documentsSent += sent
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", filePath, err))
			}

		case docExtensions[ext]:
			if err := h.graph.UploadDocument(ctx, workspace, filePath, bytes.NewReader(content)); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", filePath, err))
			} else {
				documentsSent++
			}
			if recoveryExtensions[ext] {
				sent, recoveryErrs := h.recoverCodeBlocks(ctx, workspace, filePath, string(content))
				documentsSent += sent
				errs = append(errs, recoveryErrs...)
			}

		default:
			if err := h.graph.IngestText(ctx, workspace, string(content)); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", filePath, err))
			} else {
				documentsSent++
			}
		}
	}

	c.JSON(http.StatusOK, IngestResponse{
		Workspace:      workspace,
		FilesProcessed: len(files),
		DocumentsSent:  documentsSent,
		Errors:         errs,
	})
}

// ingestCode 解析代码文件并把结构化文档送图谱
func (h *Handler) ingestCode(ctx context.Context, workspace, filePath, content string) (int, error) {
	language := extractor.DetectLanguage(filePath)
	result, err := extractor.ParseFile(ctx, filePath, content, language)
	if err != nil {
		return 0, err
	}
	if err := h.graph.IngestText(ctx, workspace, result.Document); err != nil {
		return 0, err
	}
	return 1, nil
}

// recoverCodeBlocks 从文档正文提取代码块, 用合成路径单独解析入图谱
func (h *Handler) recoverCodeBlocks(ctx context.Context, workspace, origin, content string) (int, []string) {
	sent := 0
	var errs []string
	for _, block := range extractor.ExtractCodeBlocks(content) {
		// 识别不出语言的块丢弃, 不算错误
		if block.Language == "" {
			continue
		}
		syntheticPath := block.SyntheticPath(origin)
		n, err := h.ingestCode(ctx, workspace, syntheticPath, block.Code)
		sent += n
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", syntheticPath, err))
		}
	}
	return sent, errs
}

func readUpload(fileHeader *multipart.FileHeader) (string, []byte, error) {
	filePath := fileHeader.Filename
	if filePath == "" {
		filePath = "unknown"
	}
	file, err := fileHeader.Open()
	if err != nil {
		return filePath, nil, err
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		return filePath, nil, err
	}
	return filePath, content, nil
}
