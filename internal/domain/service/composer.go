package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
)

// recallThreshold 低于该相似度的召回不注入提示词
const recallThreshold = 0.30

// Embedder 文本向量化
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GraphContext 知识图谱上下文来源
// 实现必须失败安全: 图谱不可用时返回空串
type GraphContext interface {
	QueryContext(ctx context.Context, workspace, query string) string
}

// HistoryProvider 会话短期历史来源
type HistoryProvider interface {
	History(ctx context.Context, sessionID string) ([]entity.Turn, error)
}

// Composer 组装带记忆的上游提示词
//
// 三路记忆来源并发获取, 任何一路失败都不阻断对话:
//   - 档案记忆: 知识图谱查询得到的结构化上下文
//   - 召回记忆: 其他会话摘要的向量相似检索
//   - 短期历史: Redis里缓存的最近对话轮
type Composer struct {
	sessions repository.SessionRepository
	history  HistoryProvider
	embedder Embedder
	graph    GraphContext
	topK     int
	logger   *zap.Logger
}

// NewComposer 创建记忆组装器
func NewComposer(
	sessions repository.SessionRepository,
	history HistoryProvider,
	embedder Embedder,
	graph GraphContext,
	topK int,
	logger *zap.Logger,
) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		sessions: sessions,
		history:  history,
		embedder: embedder,
		graph:    graph,
		topK:     topK,
		logger:   logger.With(zap.String("component", "composer")),
	}
}

// ComposeInput 一次组装的输入
type ComposeInput struct {
	SessionID string
	Workspace string
	// Messages 客户端原始消息, 含system
	Messages []entity.Turn
}

// Compose 组装发往上游的消息序列
//
// 输出顺序: [增强后的system] + 短期历史(去掉当前问题) + 请求里的非system消息
// 没有非空user消息时原样返回输入, 不做任何检索
func (c *Composer) Compose(ctx context.Context, in ComposeInput) []entity.Turn {
	query := lastUserQuery(in.Messages)
	if query == "" {
		return in.Messages
	}

	systemParts := make([]string, 0, 1)
	tail := make([]entity.Turn, 0, len(in.Messages))
	for _, msg := range in.Messages {
		if msg.Role == entity.RoleSystem {
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}
		tail = append(tail, msg)
	}

	var (
		wg         sync.WaitGroup
		graphBlock string
		recallText string
		history    []entity.Turn
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		graphBlock = c.graph.QueryContext(ctx, in.Workspace, query)
	}()
	go func() {
		defer wg.Done()
		recallText = c.recall(ctx, in.Workspace, in.SessionID, query)
	}()
	go func() {
		defer wg.Done()
		turns, err := c.history.History(ctx, in.SessionID)
		if err != nil {
			c.logger.Warn("short-term history unavailable",
				zap.String("session_id", in.SessionID),
				zap.Error(err),
			)
			return
		}
		history = turns
	}()
	wg.Wait()

	// 末尾是刚写入缓冲的当前问题, 去掉避免重复
	if len(history) > 0 {
		history = history[:len(history)-1]
	}

	systemText := strings.Join(systemParts, "\n\n")
	composed := make([]entity.Turn, 0, len(history)+len(tail)+1)
	if memory := renderMemoryBlock(graphBlock, recallText); memory != "" {
		content := "--- Relevant Memory ---\n" + memory
		if systemText != "" {
			content = systemText + "\n\n" + content
		}
		composed = append(composed, entity.Turn{Role: entity.RoleSystem, Content: content})
	} else if systemText != "" {
		composed = append(composed, entity.Turn{Role: entity.RoleSystem, Content: systemText})
	}
	composed = append(composed, history...)
	composed = append(composed, tail...)
	return composed
}

// recall 检索其他会话的相关摘要
func (c *Composer) recall(ctx context.Context, workspace, sessionID, query string) string {
	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Warn("recall embedding failed", zap.Error(err))
		return ""
	}

	hits, err := c.sessions.SearchSimilar(ctx, workspace, vector, c.topK, sessionID)
	if err != nil {
		c.logger.Warn("recall search failed", zap.Error(err))
		return ""
	}

	parts := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < recallThreshold {
			continue
		}
		parts = append(parts, fmt.Sprintf("[Past conversation (relevance: %.2f)]\n%s", hit.Similarity, hit.Summary))
	}
	return strings.Join(parts, "\n\n")
}

// renderMemoryBlock 渲染注入system的记忆块, 档案记忆在前
func renderMemoryBlock(graphBlock, recallText string) string {
	parts := make([]string, 0, 2)
	if graphBlock != "" {
		parts = append(parts, "<archival_memory>\n"+graphBlock+"\n</archival_memory>")
	}
	if recallText != "" {
		parts = append(parts, "<recall_memory>\n"+recallText+"\n</recall_memory>")
	}
	return strings.Join(parts, "\n\n")
}

// lastUserQuery 取最后一条非空user消息作为检索query
func lastUserQuery(messages []entity.Turn) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == entity.RoleUser && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content
		}
	}
	return ""
}
