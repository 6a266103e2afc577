// Package messaging 行情领域事件发布
package messaging

import (
	"context"

	"github.com/wyfcoding/investlink/internal/marketdata/domain"
	"github.com/wyfcoding/investlink/pkg/logger"
	"github.com/wyfcoding/investlink/pkg/mq"
)

// KafkaPublisher 通过 Kafka 发布事件，key 为标的保证同一标的有序
type KafkaPublisher struct {
	producer *mq.KafkaProducer
}

// NewKafkaPublisher 创建 Kafka 事件发布器
func NewKafkaPublisher(producer *mq.KafkaProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish 发布事件
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	return p.producer.SendMessage(ctx, topic, key, event)
}

// NoopPublisher 未配置 broker 时使用
type NoopPublisher struct{}

// Publish 只记 debug 日志
func (NoopPublisher) Publish(ctx context.Context, topic, key string, _ any) error {
	logger.Debug(ctx, "event publishing disabled", "topic", topic, "key", key)
	return nil
}

var (
	_ domain.EventPublisher = (*KafkaPublisher)(nil)
	_ domain.EventPublisher = NoopPublisher{}
)
