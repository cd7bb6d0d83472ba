package shortterm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memflow/memflow/internal/domain/entity"
	domainErrors "github.com/memflow/memflow/pkg/errors"
)

// Buffer 会话短期记忆缓冲接口
// 实现以会话为单位保存最近的对话轮, 带TTL过期
type Buffer interface {
	// Append 追加一轮对话并刷新TTL
	Append(ctx context.Context, sessionID string, turns ...entity.Turn) error
	// History 返回缓冲中的全部对话轮 (按追加顺序)
	History(ctx context.Context, sessionID string) ([]entity.Turn, error)
	// Len 返回缓冲中的对话轮数量
	Len(ctx context.Context, sessionID string) (int64, error)
	// Delete 清空会话缓冲
	Delete(ctx context.Context, sessionID string) error
}

// RedisBuffer Redis 实现的短期记忆缓冲
type RedisBuffer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient 根据URL创建Redis客户端
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisBuffer 创建 Redis 短期记忆缓冲
func NewRedisBuffer(client *redis.Client, ttl time.Duration) *RedisBuffer {
	return &RedisBuffer{
		client: client,
		ttl:    ttl,
	}
}

var _ Buffer = (*RedisBuffer)(nil)

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

// Append 追加对话轮并刷新TTL
func (b *RedisBuffer) Append(ctx context.Context, sessionID string, turns ...entity.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	values := make([]any, 0, len(turns))
	for _, turn := range turns {
		encoded, err := json.Marshal(turn)
		if err != nil {
			return domainErrors.NewInternalError("failed to encode turn: " + err.Error())
		}
		values = append(values, encoded)
	}

	key := sessionKey(sessionID)
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domainErrors.NewInternalError("failed to append to session buffer: " + err.Error())
	}
	return nil
}

// History 返回缓冲中的全部对话轮
func (b *RedisBuffer) History(ctx context.Context, sessionID string) ([]entity.Turn, error) {
	raw, err := b.client.LRange(ctx, sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to read session buffer: " + err.Error())
	}

	turns := make([]entity.Turn, 0, len(raw))
	for _, item := range raw {
		var turn entity.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			// 损坏的条目跳过, 不让单条坏数据毁掉整个历史
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Len 返回缓冲中的对话轮数量
func (b *RedisBuffer) Len(ctx context.Context, sessionID string) (int64, error) {
	count, err := b.client.LLen(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return 0, domainErrors.NewInternalError("failed to count session buffer: " + err.Error())
	}
	return count, nil
}

// Delete 清空会话缓冲
func (b *RedisBuffer) Delete(ctx context.Context, sessionID string) error {
	if err := b.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return domainErrors.NewInternalError("failed to delete session buffer: " + err.Error())
	}
	return nil
}
