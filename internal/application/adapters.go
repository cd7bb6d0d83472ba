package application

import (
	"context"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/infrastructure/kg"
	"github.com/memflow/memflow/internal/infrastructure/llm"
)

// summarizerClient 把摘要模型调用适配到领域层 SummaryClient 接口
type summarizerClient struct {
	client *llm.OllamaClient
	url    string
	model  string
}

func (s *summarizerClient) Complete(ctx context.Context, messages []entity.Turn, temperature float64, maxTokens int) (string, error) {
	chatMessages := make([]llm.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		chatMessages = append(chatMessages, llm.ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	result, err := s.client.Chat(ctx, s.url, s.model, chatMessages, llm.ChatOptions{
		Temperature: temperature,
		NumPredict:  maxTokens,
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// graphAdapter 把知识图谱客户端适配到领域层 GraphContext/GraphIngestor 接口
type graphAdapter struct {
	client *kg.Client
}

func (g *graphAdapter) QueryContext(ctx context.Context, workspace, query string) string {
	result := g.client.QueryData(ctx, workspace, query, "hybrid")
	if result.Empty() {
		return ""
	}
	return kg.FormatContext(result)
}

func (g *graphAdapter) IngestText(ctx context.Context, workspace, text string) error {
	return g.client.IngestText(ctx, workspace, text)
}
