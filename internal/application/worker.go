package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/internal/infrastructure/config"
	"github.com/memflow/memflow/internal/infrastructure/persistence"
	"github.com/memflow/memflow/internal/infrastructure/queue"
	"github.com/memflow/memflow/internal/ingest"
	"github.com/memflow/memflow/pkg/safego"
)

// WorkerApp 摄取worker应用程序
type WorkerApp struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	documentRepo repository.DocumentRepository
	jobRepo      repository.JobRepository

	natsConn *nats.Conn
	consumer *queue.Consumer
	worker   *ingest.Worker

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// NewWorkerApp 创建worker应用程序
func NewWorkerApp(cfg *config.Config, logger *zap.Logger) (*WorkerApp, error) {
	app := &WorkerApp{
		config: cfg,
		logger: logger,
	}

	// worker连接池比网关小: 并发度由消费者决定, 不需要满额连接
	dbCfg := cfg.Database
	if dbCfg.MaxConns > 5 {
		dbCfg.MaxConns = 5
	}
	db, err := persistence.NewDBConnection(&dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	app.db = db
	app.documentRepo = persistence.NewGormDocumentRepository(db)
	app.jobRepo = persistence.NewGormJobRepository(db)

	nc, js, err := queue.Connect(cfg.NATS.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect nats: %w", err)
	}
	app.natsConn = nc

	if err := queue.EnsureStream(js); err != nil {
		nc.Close()
		return nil, err
	}

	ackWait := time.Duration(cfg.Worker.AckWaitSeconds) * time.Second
	consumer, err := queue.NewConsumer(js, ackWait, cfg.Worker.MaxRedeliveries)
	if err != nil {
		nc.Close()
		return nil, err
	}
	app.consumer = consumer

	client := ingest.NewPreprocessorClient(cfg.Preprocessor.URL, logger)
	processor := ingest.NewProcessor(app.documentRepo, client, cfg.Worker.BatchSize, logger)
	app.worker = ingest.NewWorker(app.jobRepo, processor, consumer, cfg.Worker.MaxRedeliveries, logger)

	return app, nil
}

// Start 启动worker消费循环
func (app *WorkerApp) Start(ctx context.Context) error {
	app.logger.Info("Starting ingest worker")

	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	app.done.Add(1)
	safego.Go(app.logger, "ingest-worker", func() {
		defer app.done.Done()
		app.worker.Run(runCtx)
	})
	return nil
}

// Stop 停止worker并释放连接
func (app *WorkerApp) Stop(ctx context.Context) error {
	app.logger.Info("Stopping ingest worker")

	if app.cancel != nil {
		app.cancel()
	}

	// 等待在途作业处理完, 超时则放弃 (消息会在ack_wait后重投递)
	finished := make(chan struct{})
	go func() {
		app.done.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		app.logger.Warn("Timed out waiting for in-flight jobs")
	}

	// 不注销订阅: Unsubscribe会删除服务端的durable消费者,
	// 丢掉投递计数; 关连接即可, ingest-worker消费者留在服务端
	if app.natsConn != nil {
		app.natsConn.Close()
	}

	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Ingest worker stopped")
	return nil
}
