package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/interfaces/http/handlers"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Host string
	Port int
	Mode string // local, production
}

// Handlers 网关的全部处理器
type Handlers struct {
	Chat     *handlers.ChatHandler
	Model    *handlers.ModelHandler
	Session  *handlers.SessionHandler
	Document *handlers.DocumentHandler
	Job      *handlers.JobHandler
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, h Handlers, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	setupRoutes(router, h)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{
		server: server,
		logger: logger,
	}
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func setupRoutes(router *gin.Engine, h Handlers) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", h.Chat.ChatCompletions)
		v1.GET("/models", h.Model.ListModels)

		v1.GET("/sessions", h.Session.ListSessions)
		v1.DELETE("/sessions/:id", h.Session.DeleteSession)

		v1.POST("/documents/ingest", h.Document.IngestDocument)
		v1.POST("/codebase/ingest", h.Document.IngestCodebase)
		v1.GET("/documents/:id/download", h.Document.DownloadDocument)

		v1.GET("/jobs/:id", h.Job.GetJob)
		v1.GET("/jobs", h.Job.ListJobs)
	}
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
