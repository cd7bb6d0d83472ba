package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/internal/infrastructure/queue"
	domainErrors "github.com/memflow/memflow/pkg/errors"
)

const fetchWait = 5 * time.Second

// Fetcher 拉取消息的最小接口, 便于测试替身
type Fetcher interface {
	Fetch(maxWait time.Duration) (queue.Msg, error)
}

// Worker 摄取作业worker: 从队列拉取作业消息并驱动状态迁移
//
// 消息处置规则:
//   - 负载损坏或作业不存在: Term (重投递也无济于事)
//   - 作业已完成: Ack (重复投递)
//   - 处理成功: MarkCompleted + Ack
//   - 处理失败且重试次数未耗尽: MarkFailed + ResetQueued + Nak
//   - 处理失败且重试次数耗尽: MarkFailed + Term
type Worker struct {
	jobs            repository.JobRepository
	processor       *Processor
	consumer        Fetcher
	maxRedeliveries int
	logger          *zap.Logger
}

// NewWorker 创建摄取worker
func NewWorker(jobs repository.JobRepository, processor *Processor, consumer Fetcher, maxRedeliveries int, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		jobs:            jobs,
		processor:       processor,
		consumer:        consumer,
		maxRedeliveries: maxRedeliveries,
		logger:          logger,
	}
}

// Run 拉取循环, ctx取消后返回
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("ingest worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ingest worker stopped")
			return
		default:
		}

		msg, err := w.consumer.Fetch(fetchWait)
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.logger.Error("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		w.Handle(ctx, msg)
	}
}

// Handle 处理一条作业消息
func (w *Worker) Handle(ctx context.Context, msg queue.Msg) {
	var jobMsg queue.JobMessage
	if err := json.Unmarshal(msg.Data(), &jobMsg); err != nil || jobMsg.JobID == "" {
		w.logger.Error("malformed job message, terminating", zap.ByteString("data", msg.Data()))
		_ = msg.Term()
		return
	}

	log := w.logger.With(zap.String("job_id", jobMsg.JobID), zap.String("type", jobMsg.Type))

	job, err := w.jobs.Get(ctx, jobMsg.JobID)
	if err != nil {
		if domainErrors.IsNotFound(err) {
			log.Error("job not found, terminating")
			_ = msg.Term()
			return
		}
		log.Error("failed to load job", zap.Error(err))
		_ = msg.Nak()
		return
	}

	if job.Status == entity.JobStatusCompleted {
		log.Info("job already completed, acking duplicate delivery")
		_ = msg.Ack()
		return
	}

	if err := w.jobs.MarkStarted(ctx, job.ID); err != nil {
		log.Error("failed to mark job started", zap.Error(err))
		_ = msg.Nak()
		return
	}

	log.Info("processing job", zap.String("doc_id", job.DocID), zap.String("workspace", job.Workspace))

	result, err := w.process(ctx, job)
	if err != nil {
		w.handleFailure(ctx, log, job, msg, err)
		return
	}

	if err := w.jobs.MarkCompleted(ctx, job.ID, result); err != nil {
		log.Error("failed to mark job completed", zap.Error(err))
	}
	_ = msg.Ack()
	log.Info("job completed")
}

func (w *Worker) process(ctx context.Context, job *entity.IngestJob) (map[string]any, error) {
	switch job.JobType {
	case entity.JobTypeCodebase:
		return w.processor.ProcessCodebase(ctx, job)
	default:
		return w.processor.ProcessDocument(ctx, job)
	}
}

func (w *Worker) handleFailure(ctx context.Context, log *zap.Logger, job *entity.IngestJob, msg queue.Msg, procErr error) {
	attempts := job.Attempts + 1
	errMsg := fmt.Sprintf("attempt %d: %v", attempts, procErr)

	if err := w.jobs.MarkFailed(ctx, job.ID, errMsg); err != nil {
		log.Error("failed to mark job failed", zap.Error(err))
	}

	if attempts >= w.maxRedeliveries {
		log.Error("job failed permanently", zap.Int("attempts", attempts), zap.Error(procErr))
		_ = msg.Term()
		return
	}

	if err := w.jobs.ResetQueued(ctx, job.ID); err != nil {
		log.Error("failed to requeue job", zap.Error(err))
	}
	log.Warn("job failed, requeueing", zap.Int("attempts", attempts), zap.Error(procErr))
	_ = msg.Nak()
}
