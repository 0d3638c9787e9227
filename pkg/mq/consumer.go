package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"milestone-tracker/pkg/metrics"
	"milestone-tracker/pkg/otel"
	"milestone-tracker/pkg/trace"
)

// MessageHandler 处理一条消息。返回 error 会 nack 并重新入队。
type MessageHandler func(ctx context.Context, routingKey string, data json.RawMessage) error

type Consumer struct {
	*session
	queue       amqp091.Queue
	routingKeys []string
	handler     MessageHandler
	logger      *zap.Logger
}

// NewConsumer creates a durable queue bound to the given routing keys.
func NewConsumer(url, queueName string, routingKeys []string, logger *zap.Logger) (*Consumer, error) {
	s, err := openSession(url)
	if err != nil {
		return nil, err
	}
	ch := s.channel

	fail := func(err error) (*Consumer, error) {
		s.close()
		return nil, err
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("failed to declare queue: %w", err))
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, ExchangeName, false, nil); err != nil {
			return fail(fmt.Errorf("failed to bind queue: %w", err))
		}
	}

	if _, err := DeclareDLQQueue(ch, queueName, routingKeys...); err != nil {
		return fail(err)
	}

	// 一次只取少量消息，避免单个 worker 囤积
	if err := ch.Qos(10, 0, false); err != nil {
		return fail(fmt.Errorf("failed to set qos: %w", err))
	}

	logger.Info("Consumer initialized",
		zap.Strings("routing_keys", routingKeys),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		session:     s,
		queue:       q,
		routingKeys: routingKeys,
		logger:      logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	c.session.close()
}

// IsConnected reports whether the consumer's connection and channel are open.
func (c *Consumer) IsConnected() bool {
	return c.session.alive()
}

// StartConsuming blocks until ctx is cancelled or the delivery channel closes.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"",
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopping", zap.String("queue", c.queue.Name))
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", c.queue.Name)
			}
			c.handle(ctx, msg)
		}
	}
}

// handle 保证每条消息都会被 ack 或 nack
func (c *Consumer) handle(parent context.Context, msg amqp091.Delivery) {
	start := time.Now()
	ctx := otel.GetTextMapPropagator().Extract(parent, otel.NewMQHeaderCarrier(msg.Headers))
	if traceID, ok := msg.Headers[trace.TraceIDKey].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx, span := otel.MQConsumeSpan(ctx, msg.RoutingKey, c.queue.Name)
	defer span.End()

	log := c.logger.With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("queue", c.queue.Name),
	)
	if traceID := trace.FromContext(ctx); traceID != "" {
		log = log.With(zap.String(trace.TraceIDKey, traceID))
	}

	log.Debug("Received message", zap.Int("message_size", len(msg.Body)))

	defer func() {
		metrics.RecordMQConsumeLatency(msg.RoutingKey, c.queue.Name, time.Since(start))
	}()

	// Panic 恢复：确保即使 handler panic 也能正确处理消息
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			span.SetStatus(codes.Error, "panic")
			if err := msg.Nack(false, true); err != nil {
				log.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	if err := c.handler(ctx, msg.RoutingKey, msg.Body); err != nil {
		log.Error("Handler error", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// 业务失败 → 拒绝消息并重新入队，让 MQ 重试
		if err := msg.Nack(false, true); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack message", zap.Error(err))
		return
	}
	log.Debug("Message processed successfully")
}
