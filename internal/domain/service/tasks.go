package service

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task 一个后台任务
type Task func(ctx context.Context)

// TaskQueue 有界后台任务队列
//
// 承载记忆提升等不能阻塞请求路径的工作:
// 队列满时丢弃新任务并计数, 不反压调用方
type TaskQueue struct {
	mu      sync.RWMutex
	tasks   chan Task
	closed  bool
	dropped atomic.Int64
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewTaskQueue 创建任务队列并启动排空协程
func NewTaskQueue(size int, logger *zap.Logger) *TaskQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 1000
	}
	q := &TaskQueue{
		tasks:  make(chan Task, size),
		logger: logger.With(zap.String("component", "task-queue")),
	}

	q.wg.Add(1)
	go q.drain()

	return q
}

// Submit 提交任务, 队列满时丢弃
func (q *TaskQueue) Submit(task Task) bool {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return false
	}
	defer q.mu.RUnlock()

	select {
	case q.tasks <- task:
		return true
	default:
		dropped := q.dropped.Add(1)
		q.logger.Warn("task queue full, dropping task",
			zap.Int64("dropped_total", dropped),
		)
		return false
	}
}

// Dropped 累计丢弃任务数
func (q *TaskQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Close 关闭队列并等待已入队任务执行完
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("task queue closed")
}

// drain 任务执行循环
// 任务用独立context执行, 不随触发它的请求取消
func (q *TaskQueue) drain() {
	defer q.wg.Done()

	for task := range q.tasks {
		q.run(task)
	}
}

func (q *TaskQueue) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("background task panicked", zap.Any("panic", r))
		}
	}()
	task(context.Background())
}
