package application

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/internal/domain/service"
	"github.com/memflow/memflow/internal/infrastructure/config"
	"github.com/memflow/memflow/internal/infrastructure/embedding"
	"github.com/memflow/memflow/internal/infrastructure/kg"
	"github.com/memflow/memflow/internal/infrastructure/llm"
	"github.com/memflow/memflow/internal/infrastructure/persistence"
	"github.com/memflow/memflow/internal/infrastructure/queue"
	"github.com/memflow/memflow/internal/infrastructure/shortterm"
	httpServer "github.com/memflow/memflow/internal/interfaces/http"
	"github.com/memflow/memflow/internal/interfaces/http/handlers"
)

// App 网关应用程序
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	// 仓储层
	sessionRepo  repository.SessionRepository
	messageRepo  repository.MessageRepository
	documentRepo repository.DocumentRepository
	jobRepo      repository.JobRepository

	// 基础设施
	redisClient *redis.Client
	buffer      shortterm.Buffer
	natsConn    *nats.Conn
	publisher   *queue.Publisher
	llmRouter   *llm.Router
	llmClient   *llm.OllamaClient
	embedder    *embedding.OllamaEmbedder
	graphClient *kg.Client

	// 领域服务
	composer  *service.Composer
	promoter  *service.Promoter
	taskQueue *service.TaskQueue

	httpServer *httpServer.Server
}

// NewApp 创建网关应用程序（依赖注入容器）
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	// 初始化各层组件
	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	app.initDomainServices()
	app.initInterfaces()

	return app, nil
}

// initRepositories 初始化数据库连接和仓储层
func (app *App) initRepositories() error {
	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	app.db = db

	app.sessionRepo = persistence.NewGormSessionRepository(db)
	app.messageRepo = persistence.NewGormMessageRepository(db)
	app.documentRepo = persistence.NewGormDocumentRepository(db)
	app.jobRepo = persistence.NewGormJobRepository(db)
	return nil
}

// initInfrastructure 初始化Redis/NATS/上游服务客户端
func (app *App) initInfrastructure() error {
	redisClient, err := shortterm.NewRedisClient(app.config.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	app.redisClient = redisClient
	ttl := time.Duration(app.config.Memory.SessionTTLSeconds) * time.Second
	app.buffer = shortterm.NewRedisBuffer(redisClient, ttl)

	nc, js, err := queue.Connect(app.config.NATS.URL, app.logger)
	if err != nil {
		return fmt.Errorf("failed to connect nats: %w", err)
	}
	app.natsConn = nc
	if err := queue.EnsureStream(js); err != nil {
		return err
	}
	app.publisher = queue.NewPublisher(js, app.logger)

	app.llmRouter = llm.NewRouter(app.config.Models.Routes, app.logger)
	app.llmClient = llm.NewOllamaClient(app.logger)
	app.embedder = embedding.NewOllamaEmbedder(
		app.config.Embedding.URL,
		app.config.Embedding.Model,
		app.config.Embedding.Dimension,
		app.logger,
	)
	app.graphClient = kg.NewClient(app.config.KnowledgeGraph.URL, app.logger)
	return nil
}

// initDomainServices 初始化记忆组装/提升服务
func (app *App) initDomainServices() {
	graph := &graphAdapter{client: app.graphClient}
	summarizer := &summarizerClient{
		client: app.llmClient,
		url:    app.config.Summarizer.URL,
		model:  app.config.Summarizer.Model,
	}

	app.composer = service.NewComposer(
		app.sessionRepo,
		app.buffer,
		app.embedder,
		graph,
		app.config.Memory.RecallTopK,
		app.logger,
	)
	app.promoter = service.NewPromoter(
		app.sessionRepo,
		app.messageRepo,
		app.buffer,
		summarizer,
		app.embedder,
		graph,
		app.config.Memory.PromoteAfterTurns,
		app.config.Memory.ArchivalAfterTurns,
		app.logger,
	)
	app.taskQueue = service.NewTaskQueue(app.config.Memory.TaskQueueSize, app.logger)
}

// initInterfaces 初始化HTTP接口层
func (app *App) initInterfaces() {
	h := httpServer.Handlers{
		Chat: handlers.NewChatHandler(
			app.llmRouter,
			app.llmClient,
			app.composer,
			app.promoter,
			app.buffer,
			app.sessionRepo,
			app.messageRepo,
			app.taskQueue,
			app.logger,
		),
		Model:    handlers.NewModelHandler(app.llmRouter),
		Session:  handlers.NewSessionHandler(app.sessionRepo, app.buffer, app.logger),
		Document: handlers.NewDocumentHandler(app.documentRepo, app.jobRepo, app.publisher, app.logger),
		Job:      handlers.NewJobHandler(app.jobRepo, app.logger),
	}

	app.httpServer = httpServer.NewServer(httpServer.Config{
		Host: app.config.Gateway.Host,
		Port: app.config.Gateway.Port,
		Mode: app.config.Gateway.Mode,
	}, h, app.logger)
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop 停止应用程序
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	// 等待后台记忆任务排空
	if app.taskQueue != nil {
		app.taskQueue.Close()
	}

	if app.natsConn != nil {
		app.natsConn.Close()
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}
