package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/domain/entity"
	domainErrors "github.com/memflow/memflow/pkg/errors"
)

const (
	// StreamName 摄取作业流
	StreamName = "INGEST"
	// DurableName 拉取消费者名称 (所有worker共享同一消费者)
	DurableName = "ingest-worker"

	subjectPrefix   = "ingest."
	subjectWildcard = "ingest.*"

	maxStreamMsgs = 10000
)

// JobMessage 队列上的作业消息
// 只携带ID, 作业内容以数据库为准
type JobMessage struct {
	JobID string `json:"job_id"`
	Type  string `json:"type"`
}

// Connect 连接NATS并返回JetStream上下文
func Connect(url string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	return nc, js, nil
}

// EnsureStream 确保摄取流存在
// workqueue保留策略: 消息被确认后即删除, 每条消息只投递给一个worker
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + string(entity.JobTypeDocument), subjectPrefix + string(entity.JobTypeCodebase)},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxMsgs:   maxStreamMsgs,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to ensure ingest stream: %w", err)
	}
	return nil
}

// Publisher 发布摄取作业到队列
type Publisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewPublisher 创建作业发布器
func NewPublisher(js nats.JetStreamContext, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		js:     js,
		logger: logger,
	}
}

// Publish 发布作业消息
func (p *Publisher) Publish(ctx context.Context, jobType entity.JobType, jobID string) error {
	payload, err := json.Marshal(JobMessage{
		JobID: jobID,
		Type:  string(jobType),
	})
	if err != nil {
		return domainErrors.NewInternalError("failed to encode job message: " + err.Error())
	}

	subject := subjectPrefix + string(jobType)
	if _, err := p.js.Publish(subject, payload, nats.Context(ctx)); err != nil {
		return domainErrors.NewInternalError("failed to publish job: " + err.Error())
	}
	p.logger.Info("job published",
		zap.String("job_id", jobID),
		zap.String("subject", subject),
	)
	return nil
}

// Msg 队列消息的最小接口, 便于测试替身
type Msg interface {
	Data() []byte
	// Ack 确认消息, 从流中删除
	Ack() error
	// Nak 否认消息, 触发重投递
	Nak() error
	// Term 终止消息, 不再投递
	Term() error
}

// natsMsg nats.Msg 的适配
type natsMsg struct {
	msg *nats.Msg
}

func (m *natsMsg) Data() []byte { return m.msg.Data }
func (m *natsMsg) Ack() error   { return m.msg.Ack() }
func (m *natsMsg) Nak() error   { return m.msg.Nak() }
func (m *natsMsg) Term() error  { return m.msg.Term() }

// Consumer 摄取作业的durable拉取消费者
type Consumer struct {
	sub *nats.Subscription
}

// NewConsumer 创建拉取消费者
// ackWait 内未确认的消息会被重投递, maxDeliver 次后进入死信
func NewConsumer(js nats.JetStreamContext, ackWait time.Duration, maxDeliver int) (*Consumer, error) {
	sub, err := js.PullSubscribe(subjectWildcard, DurableName,
		nats.BindStream(StreamName),
		nats.AckWait(ackWait),
		nats.MaxDeliver(maxDeliver),
		nats.ManualAck(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull consumer: %w", err)
	}
	return &Consumer{sub: sub}, nil
}

// Fetch 拉取至多一条消息, 无消息时返回 nats.ErrTimeout
func (c *Consumer) Fetch(maxWait time.Duration) (Msg, error) {
	msgs, err := c.sub.Fetch(1, nats.MaxWait(maxWait))
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nats.ErrTimeout
	}
	return &natsMsg{msg: msgs[0]}, nil
}
