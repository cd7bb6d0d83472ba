package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	domainErrors "github.com/memflow/memflow/pkg/errors"
)

// defaultBatchSize 归档文件分批送预处理器的批大小
const defaultBatchSize = 20

// Processor 摄取作业处理器: 取出文档 blob, 解压并送进预处理器
type Processor struct {
	documents    repository.DocumentRepository
	preprocessor *PreprocessorClient
	batchSize    int
	logger       *zap.Logger
}

// NewProcessor 创建作业处理器
func NewProcessor(documents repository.DocumentRepository, preprocessor *PreprocessorClient, batchSize int, logger *zap.Logger) *Processor {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		documents:    documents,
		preprocessor: preprocessor,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// ProcessDocument 处理单文档作业: 解压后整个文件送预处理器
func (p *Processor) ProcessDocument(ctx context.Context, job *entity.IngestJob) (map[string]any, error) {
	doc, content, err := p.loadDocument(ctx, job.DocID)
	if err != nil {
		return nil, err
	}

	result, err := p.preprocessor.Ingest(ctx, doc.Workspace, []ArchiveFile{{Path: doc.FileName, Data: content}})
	if err != nil {
		return nil, err
	}

	p.logger.Info("document processed",
		zap.String("job_id", job.ID),
		zap.String("doc_id", doc.ID),
		zap.Int("documents_sent", result.DocumentsSent))

	return map[string]any{
		"documents_sent": result.DocumentsSent,
		"errors":         result.Errors,
	}, nil
}

// ProcessCodebase 处理代码库作业: 展开归档, 分批送预处理器
// 单批失败只记录, 不中断后续批次
func (p *Processor) ProcessCodebase(ctx context.Context, job *entity.IngestJob) (map[string]any, error) {
	doc, content, err := p.loadDocument(ctx, job.DocID)
	if err != nil {
		return nil, err
	}

	files := ExtractArchive(content, doc.FileName)
	if len(files) == 0 {
		return nil, domainErrors.NewInvalidInputError("could not extract any files from " + doc.FileName)
	}

	documentsSent := 0
	var errs []string
	for start := 0; start < len(files); start += p.batchSize {
		end := start + p.batchSize
		if end > len(files) {
			end = len(files)
		}
		batchIndex := start/p.batchSize + 1

		result, err := p.preprocessor.Ingest(ctx, doc.Workspace, files[start:end])
		if err != nil {
			errs = append(errs, fmt.Sprintf("batch %d: %v", batchIndex, err))
			p.logger.Warn("codebase batch failed",
				zap.String("job_id", job.ID),
				zap.Int("batch", batchIndex),
				zap.Error(err))
			continue
		}
		documentsSent += result.DocumentsSent
		errs = append(errs, result.Errors...)
	}

	p.logger.Info("codebase processed",
		zap.String("job_id", job.ID),
		zap.String("doc_id", doc.ID),
		zap.Int("files_found", len(files)),
		zap.Int("documents_sent", documentsSent),
		zap.Int("errors", len(errs)))

	return map[string]any{
		"files_found":    len(files),
		"documents_sent": documentsSent,
		"errors":         errs,
	}, nil
}

// loadDocument 取出文档并解压 blob
func (p *Processor) loadDocument(ctx context.Context, docID string) (*entity.Document, []byte, error) {
	doc, err := p.documents.Get(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	content, err := gunzip(doc.CompressedBlob)
	if err != nil {
		return nil, nil, domainErrors.NewInternalError("failed to decompress document " + docID + ": " + err.Error())
	}
	return doc, content, nil
}

func gunzip(blob []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
