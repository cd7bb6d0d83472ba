package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/internal/domain/service"
	"github.com/memflow/memflow/internal/infrastructure/llm"
	"github.com/memflow/memflow/internal/infrastructure/shortterm"
	"github.com/memflow/memflow/pkg/safego"
)

// ChatCompletionRequest mirrors OpenAI's request format, plus the
// session_id / workspace extension fields clients use to pin a session.
type ChatCompletionRequest struct {
	Model       string        `json:"model" binding:"required"`
	Messages    []ChatMessage `json:"messages" binding:"required"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
	Workspace   string        `json:"workspace,omitempty"`
}

// ChatMessage represents a message in the conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse mirrors OpenAI's response format
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice represents a completion choice
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage represents token usage
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk represents a streaming chunk
type ChatStreamChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
}

// ChatStreamChoice represents a streaming choice delta
type ChatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        ChatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatStreamDelta represents the delta in a streaming choice
type ChatStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatHandler serves the OpenAI-compatible chat API with memory
// augmentation: session bookkeeping, prompt composition, backend
// proxying, and background promotion.
type ChatHandler struct {
	router   *llm.Router
	llm      *llm.OllamaClient
	composer *service.Composer
	promoter *service.Promoter
	buffer   shortterm.Buffer
	sessions repository.SessionRepository
	messages repository.MessageRepository
	tasks    *service.TaskQueue
	logger   *zap.Logger
}

// NewChatHandler creates the chat handler.
func NewChatHandler(
	router *llm.Router,
	llmClient *llm.OllamaClient,
	composer *service.Composer,
	promoter *service.Promoter,
	buffer shortterm.Buffer,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	tasks *service.TaskQueue,
	logger *zap.Logger,
) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		router:   router,
		llm:      llmClient,
		composer: composer,
		promoter: promoter,
		buffer:   buffer,
		sessions: sessions,
		messages: messages,
		tasks:    tasks,
		logger:   logger.With(zap.String("component", "chat-handler")),
	}
}

// ChatCompletions handles POST /v1/chat/completions
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"message": err.Error(),
				"type":    "invalid_request_error",
			},
		})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"message": "messages array must not be empty",
				"type":    "invalid_request_error",
			},
		})
		return
	}

	route, err := h.router.Resolve(req.Model)
	if err != nil {
		abortWithError(c, err)
		return
	}

	workspace := service.DeriveWorkspace(req.Workspace, c.GetHeader("X-Workspace"), systemContent(req.Messages))

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := c.Request.Context()
	if err := h.sessions.Ensure(ctx, sessionID, workspace, req.Model); err != nil {
		h.logger.Error("failed to ensure session", zap.String("session_id", sessionID), zap.Error(err))
		abortWithError(c, err)
		return
	}

	// 记录当前用户消息到短期缓冲和持久层
	if userMsg := lastUserMessage(req.Messages); userMsg != "" {
		h.storeTurn(ctx, sessionID, entity.RoleUser, userMsg)
	}

	turns := h.composer.Compose(ctx, service.ComposeInput{
		SessionID: sessionID,
		Workspace: workspace,
		Messages:  toTurns(req.Messages),
	})

	opts := llm.ChatOptions{}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		opts.TopP = *req.TopP
	}
	if req.MaxTokens != nil {
		opts.NumPredict = *req.MaxTokens
	}

	c.Header("X-Session-Id", sessionID)

	if req.Stream {
		h.handleStream(c, &req, route.BackendURL, route.BackendModel, sessionID, workspace, turns, opts)
		return
	}
	h.handleUnary(c, &req, route.BackendURL, route.BackendModel, sessionID, workspace, turns, opts)
}

func (h *ChatHandler) handleUnary(c *gin.Context, req *ChatCompletionRequest, backendURL, backendModel, sessionID, workspace string, turns []entity.Turn, opts llm.ChatOptions) {
	ctx := c.Request.Context()

	result, err := h.llm.Chat(ctx, backendURL, backendModel, toLLMMessages(turns), opts)
	if err != nil {
		h.logger.Error("chat completion failed",
			zap.String("model", req.Model),
			zap.String("session_id", sessionID),
			zap.Error(err))
		abortWithError(c, err)
		return
	}

	if result.Content != "" {
		h.storeTurn(ctx, sessionID, entity.RoleAssistant, result.Content)
	}

	// 摘要提升不阻塞响应
	h.tasks.Submit(func(taskCtx context.Context) {
		h.promoter.MaybePromote(taskCtx, sessionID, workspace)
	})

	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []ChatChoice{
			{
				Index: 0,
				Message: ChatMessage{
					Role:    "assistant",
					Content: result.Content,
				},
				FinishReason: "stop",
			},
		},
		Usage: &ChatUsage{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.PromptTokens + result.CompletionTokens,
		},
	})
}

func (h *ChatHandler) handleStream(c *gin.Context, req *ChatCompletionRequest, backendURL, backendModel, sessionID, workspace string, turns []entity.Turn, opts llm.ChatOptions) {
	ctx := c.Request.Context()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	chunkID := completionID()
	created := time.Now().Unix()

	deltaCh := make(chan string, 64)
	resultCh := make(chan *llm.ChatResult, 1)
	errCh := make(chan error, 1)

	safego.Go(h.logger, "chat-stream", func() {
		result, err := h.llm.ChatStream(ctx, backendURL, backendModel, toLLMMessages(turns), opts, deltaCh)
		close(deltaCh)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	})

	h.writeChunk(c.Writer, ChatStreamChunk{
		ID:      chunkID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   req.Model,
		Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{Role: "assistant"}}},
	})
	c.Writer.Flush()

	for delta := range deltaCh {
		h.writeChunk(c.Writer, ChatStreamChunk{
			ID:      chunkID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{Content: delta}}},
		})
		c.Writer.Flush()
	}

	var content string
	select {
	case result := <-resultCh:
		content = result.Content
	case err := <-errCh:
		// 上游失败时直接断流, 不发终止块:
		// 发了 [DONE] 客户端会把失败当成一次空回答
		h.logger.Error("stream failed",
			zap.String("model", req.Model),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	finishReason := "stop"
	h.writeChunk(c.Writer, ChatStreamChunk{
		ID:      chunkID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   req.Model,
		Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{}, FinishReason: &finishReason}},
	})
	io.WriteString(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()

	// 流结束后的尾部工作: 请求context已无意义, 用独立context
	if content != "" {
		tailCtx := context.Background()
		h.storeTurn(tailCtx, sessionID, entity.RoleAssistant, content)
		h.promoter.MaybePromote(tailCtx, sessionID, workspace)
	}
}

// storeTurn 写入短期缓冲和持久消息, 失败只记日志
func (h *ChatHandler) storeTurn(ctx context.Context, sessionID string, role entity.Role, content string) {
	if err := h.buffer.Append(ctx, sessionID, entity.Turn{Role: role, Content: content}); err != nil {
		h.logger.Warn("failed to buffer turn", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := h.messages.Append(ctx, sessionID, role, content); err != nil {
		h.logger.Warn("failed to persist turn", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (h *ChatHandler) writeChunk(w io.Writer, chunk ChatStreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		h.logger.Error("failed to marshal stream chunk", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// completionID 稳定的chunk id: chatcmpl- 前缀 + 12位十六进制
func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func systemContent(messages []ChatMessage) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role == "system" && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func lastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}

func toTurns(messages []ChatMessage) []entity.Turn {
	turns := make([]entity.Turn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, entity.Turn{Role: entity.Role(msg.Role), Content: msg.Content})
	}
	return turns
}

func toLLMMessages(turns []entity.Turn) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, llm.ChatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	return messages
}
