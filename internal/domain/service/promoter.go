package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
)

const (
	// transcriptLimit 送入摘要模型的对话文本上限
	transcriptLimit = 12000

	summaryTimeout     = 120 * time.Second
	summaryTemperature = 0.3
	summaryMaxTokens   = 1024
)

const summarySystemPrompt = `You are a conversation summarizer. Produce a concise summary of the conversation below. Capture key decisions, facts, important details and action items. Write in third person. Keep it under 500 words.`

// SummaryClient 摘要模型的最小接口
type SummaryClient interface {
	Complete(ctx context.Context, messages []entity.Turn, temperature float64, maxTokens int) (string, error)
}

// GraphIngestor 向知识图谱送入文本
type GraphIngestor interface {
	IngestText(ctx context.Context, workspace, text string) error
}

// ShortTermStore 短期记忆的读取侧, 仅用于计数触发
type ShortTermStore interface {
	Len(ctx context.Context, sessionID string) (int64, error)
}

// Promoter 把短期对话提升为长期记忆
//
// 每当会话轮数到达阈值的整数倍就触发:
//   - 提升: 摘要+向量化, 写回会话行供跨会话召回
//   - 归档: 把摘要送入知识图谱
//
// 摘要读取的是持久消息日志而非短期缓冲: 缓冲有TTL, 过期后摘要会缺前文.
// 所有失败只记日志, 不影响对话主流程
type Promoter struct {
	sessions     repository.SessionRepository
	messages     repository.MessageRepository
	buffer       ShortTermStore
	summarizer   SummaryClient
	embedder     Embedder
	graph        GraphIngestor
	promoteEvery int
	archiveEvery int
	logger       *zap.Logger
}

// NewPromoter 创建记忆提升器
func NewPromoter(
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	buffer ShortTermStore,
	summarizer SummaryClient,
	embedder Embedder,
	graph GraphIngestor,
	promoteEvery, archiveEvery int,
	logger *zap.Logger,
) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{
		sessions:     sessions,
		messages:     messages,
		buffer:       buffer,
		summarizer:   summarizer,
		embedder:     embedder,
		graph:        graph,
		promoteEvery: promoteEvery,
		archiveEvery: archiveEvery,
		logger:       logger.With(zap.String("component", "promoter")),
	}
}

// MaybePromote 在一轮对话完成后检查是否触发提升/归档
func (p *Promoter) MaybePromote(ctx context.Context, sessionID, workspace string) {
	turns, err := p.buffer.Len(ctx, sessionID)
	if err != nil {
		p.logger.Warn("failed to count session turns",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}

	var summary string
	if due(turns, p.promoteEvery) {
		summary = p.promote(ctx, sessionID)
	}

	if due(turns, p.archiveEvery) {
		p.archive(ctx, sessionID, workspace, summary)
	}
}

// due 轮数到达阈值的整数倍
func due(turns int64, every int) bool {
	return every > 0 && turns >= int64(every) && turns%int64(every) == 0
}

// promote 摘要会话并写回摘要向量, 返回摘要文本 (失败返回空)
func (p *Promoter) promote(ctx context.Context, sessionID string) string {
	history, err := p.messages.ListBySession(ctx, sessionID)
	if err != nil {
		p.logger.Warn("failed to load messages for promotion",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return ""
	}
	if len(history) == 0 {
		return ""
	}

	summary, err := p.summarize(ctx, history)
	if err != nil {
		p.logger.Warn("summarization failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return ""
	}
	if summary == "" {
		p.logger.Warn("summarizer returned empty summary", zap.String("session_id", sessionID))
		return ""
	}

	vector, err := p.embedder.Embed(ctx, summary)
	if err != nil {
		p.logger.Warn("summary embedding failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return ""
	}

	if err := p.sessions.UpdateSummary(ctx, sessionID, summary, vector); err != nil {
		p.logger.Warn("failed to store session summary",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return ""
	}

	p.logger.Info("session summary promoted",
		zap.String("session_id", sessionID),
		zap.Int("summary_len", len(summary)),
	)
	return summary
}

// archive 把摘要送入知识图谱
// summary 为空时回落到会话已存储的摘要, 仍没有就现场摘要一次
func (p *Promoter) archive(ctx context.Context, sessionID, workspace, summary string) {
	if summary == "" {
		if session, err := p.sessions.Get(ctx, sessionID); err == nil && session.HasSummary() {
			summary = session.Summary
		}
	}
	if summary == "" {
		summary = p.promote(ctx, sessionID)
	}
	if summary == "" {
		p.logger.Warn("nothing to archive", zap.String("session_id", sessionID))
		return
	}

	text := fmt.Sprintf("Conversation Summary (session: %s, workspace: %s)\n\n%s", sessionID, workspace, summary)
	if err := p.graph.IngestText(ctx, workspace, text); err != nil {
		p.logger.Warn("archival ingest failed",
			zap.String("session_id", sessionID),
			zap.String("workspace", workspace),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("session archived to knowledge graph",
		zap.String("session_id", sessionID),
		zap.String("workspace", workspace),
	)
}

// summarize 渲染对话文本并调用摘要模型
func (p *Promoter) summarize(ctx context.Context, history []*entity.Message) (string, error) {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	transcript := strings.Join(lines, "\n")
	if len(transcript) > transcriptLimit {
		transcript = transcript[:transcriptLimit] + "\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	messages := []entity.Turn{
		{Role: entity.RoleSystem, Content: summarySystemPrompt},
		{Role: entity.RoleUser, Content: "CONVERSATION:\n" + transcript + "\n\nSUMMARY:"},
	}
	summary, err := p.summarizer.Complete(ctx, messages, summaryTemperature, summaryMaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}
