package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/usecase"
	"github.com/wekeepgrowing/semo-billing/pkg/messaging"
)

// RedisPublisher sends billing events as JSON on a Redis pub/sub channel.
// Pub/sub does not buffer: an event published while no consumer listens is lost.
type RedisPublisher struct {
	client  messaging.Publisher
	channel string
	logger  *zap.Logger
}

func NewRedisPublisher(client messaging.Publisher, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, event usecase.BillingEvent) error {
	receivers, err := p.client.Publish(ctx, p.channel, event)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	fields := []zap.Field{
		zap.String("type", event.Type),
		zap.String("channel", p.channel),
		zap.String("subscription_id", event.SubscriptionID),
		zap.Int64("receivers", receivers),
	}
	if receivers == 0 && event.Type == usecase.EventReconciliationRequired {
		p.logger.Warn("reconciliation event had no listener", fields...)
		return nil
	}
	p.logger.Debug("billing event published", fields...)
	return nil
}

var _ usecase.EventPublisher = (*RedisPublisher)(nil)
