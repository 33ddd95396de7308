package mq

import (
	"context"
	"time"

	"ojeval/internal/common/metrics"
	"ojeval/pkg/utils/logger"

	"go.uber.org/zap"
)

// Delivery outcomes recorded per topic.
const (
	outcomeHandled      = "handled"
	outcomeRetried      = "retried"
	outcomeDeadLettered = "dead_lettered"
	outcomeAbandoned    = "abandoned"
)

// deliver runs handler until it succeeds or the retry budget is spent, then
// parks the message on the dead letter topic when one is configured. It
// reports whether the message is settled and may be committed; false means
// ctx ended first and the broker should redeliver it.
func deliver(ctx context.Context, topic string, handler HandlerFunc, opts SubscribeOptions, m *Message, dead Producer) bool {
	if m.MaxRetries == 0 {
		m.MaxRetries = opts.MaxRetries
	}
	for {
		err := handler(ctx, m)
		if err == nil {
			metrics.QueueDeliveriesTotal.WithLabelValues(topic, outcomeHandled).Inc()
			return true
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			metrics.QueueDeliveriesTotal.WithLabelValues(topic, outcomeDeadLettered).Inc()
			logger.Error(ctx, "message retries exhausted",
				zap.String("topic", topic),
				zap.String("messageId", m.ID),
				zap.Int("attempts", m.RetryCount),
				zap.Error(err),
			)
			if opts.DeadLetterTopic != "" && dead != nil {
				if pubErr := dead.Publish(context.WithoutCancel(ctx), opts.DeadLetterTopic, m); pubErr != nil {
					logger.Error(ctx, "dead letter publish failed", zap.String("topic", opts.DeadLetterTopic), zap.Error(pubErr))
				}
			}
			return true
		}
		metrics.QueueDeliveriesTotal.WithLabelValues(topic, outcomeRetried).Inc()
		logger.Warn(ctx, "message handler failed, retrying",
			zap.String("topic", topic),
			zap.String("messageId", m.ID),
			zap.Int("attempt", m.RetryCount),
			zap.Duration("delay", opts.RetryDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			metrics.QueueDeliveriesTotal.WithLabelValues(topic, outcomeAbandoned).Inc()
			return false
		case <-time.After(opts.RetryDelay):
		}
	}
}
