package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/infrastructure/config"
	"github.com/memflow/memflow/internal/infrastructure/kg"
	"github.com/memflow/memflow/internal/interfaces/preproc"
)

// PreprocessorApp 代码预处理服务应用程序
type PreprocessorApp struct {
	config *config.Config
	logger *zap.Logger
	server *preproc.Server
}

// NewPreprocessorApp 创建预处理服务应用程序
func NewPreprocessorApp(cfg *config.Config, logger *zap.Logger) (*PreprocessorApp, error) {
	graph := kg.NewClient(cfg.KnowledgeGraph.URL, logger)
	handler := preproc.NewHandler(graph, logger)
	server := preproc.NewServer(preproc.Config{
		Host: cfg.Preprocessor.Host,
		Port: cfg.Preprocessor.Port,
		Mode: cfg.Gateway.Mode,
	}, handler, logger)

	return &PreprocessorApp{
		config: cfg,
		logger: logger,
		server: server,
	}, nil
}

// Start 启动服务
func (app *PreprocessorApp) Start(ctx context.Context) error {
	return app.server.Start(ctx)
}

// Stop 停止服务
func (app *PreprocessorApp) Stop(ctx context.Context) error {
	return app.server.Stop(ctx)
}
