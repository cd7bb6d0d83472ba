package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/internal/infrastructure/shortterm"
)

const defaultSessionListLimit = 50

// SessionInfo 会话列表项
type SessionInfo struct {
	ID        string `json:"id"`
	Workspace string `json:"workspace"`
	Model     string `json:"model"`
	TurnCount int    `json:"turn_count"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Summary   string `json:"summary,omitempty"`
}

// SessionHandler 会话管理
type SessionHandler struct {
	sessions repository.SessionRepository
	buffer   shortterm.Buffer
	logger   *zap.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessions repository.SessionRepository, buffer shortterm.Buffer, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		sessions: sessions,
		buffer:   buffer,
		logger:   logger.With(zap.String("component", "session-handler")),
	}
}

// ListSessions handles GET /v1/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	workspace := c.Query("workspace")

	sessions, err := h.sessions.List(c.Request.Context(), workspace, defaultSessionListLimit)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		abortWithError(c, err)
		return
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			ID:        s.ID,
			Workspace: s.Workspace,
			Model:     s.Model,
			TurnCount: s.TurnCount,
			CreatedAt: s.CreatedAt.Format(time.RFC3339),
			UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
			Summary:   s.Summary,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

// DeleteSession handles DELETE /v1/sessions/:id
// 同时清理Redis短期缓冲和持久化行
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.sessions.Get(ctx, sessionID); err != nil {
		abortWithError(c, err)
		return
	}

	if err := h.buffer.Delete(ctx, sessionID); err != nil {
		h.logger.Warn("failed to delete session buffer", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := h.sessions.Delete(ctx, sessionID); err != nil {
		h.logger.Error("failed to delete session", zap.String("session_id", sessionID), zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": sessionID})
}
