package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"

	"milestone-tracker/pkg/otel"
	"milestone-tracker/pkg/trace"
)

// Publisher 发布事件到 events exchange。amqp channel 不能并发 publish，所以加锁。
type Publisher struct {
	*session
	mu sync.Mutex
}

func NewPublisher(url string) (*Publisher, error) {
	s, err := openSession(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{session: s}, nil
}

func (p *Publisher) Close() {
	p.session.close()
}

// IsConnected reports whether the connection and its channel are still open.
func (p *Publisher) IsConnected() bool {
	return p.session.alive()
}

// Publish publishes an event without a request context.
func (p *Publisher) Publish(routingKey string, payload any) error {
	return p.PublishWithContext(context.Background(), routingKey, payload)
}

// PublishWithContext 发布事件，并把 trace_id 和 traceparent 写进消息头，
// 消费端据此串起整条链路。payload 为 []byte 或 json.RawMessage 时原样发送。
func (p *Publisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	body, err := encodeBody(payload)
	if err != nil {
		return err
	}

	ctx, span := otel.MQPublishSpan(ctx, routingKey, ExchangeName)
	defer span.End()

	headers := amqp091.Table{}
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[trace.TraceIDKey] = traceID
	}
	otel.GetTextMapPropagator().Inject(ctx, otel.NewMQHeaderCarrier(headers))

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		ExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

func encodeBody(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		return body, nil
	}
}
