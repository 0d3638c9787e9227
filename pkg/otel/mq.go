package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MQPublishSpan 在 MQ 发布时创建 span
func MQPublishSpan(ctx context.Context, routingKey string, exchange string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", exchange),
			attribute.String("messaging.destination_kind", "exchange"),
			attribute.String("messaging.rabbitmq.routing_key", routingKey),
		),
	)
}

// MQConsumeSpan 在 MQ 消费时创建 span，trace context 需要事先从消息头提取
func MQConsumeSpan(ctx context.Context, routingKey string, queue string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mq.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", queue),
			attribute.String("messaging.destination_kind", "queue"),
			attribute.String("messaging.rabbitmq.routing_key", routingKey),
		),
	)
}

// MQHeaderCarrier 实现 TextMapCarrier，在 RabbitMQ 消息头里读写 trace context
type MQHeaderCarrier struct {
	headers map[string]interface{}
}

func NewMQHeaderCarrier(headers map[string]interface{}) *MQHeaderCarrier {
	if headers == nil {
		headers = make(map[string]interface{})
	}
	return &MQHeaderCarrier{headers: headers}
}

func (c *MQHeaderCarrier) Get(key string) string {
	if str, ok := c.headers[key].(string); ok {
		return str
	}
	return ""
}

func (c *MQHeaderCarrier) Set(key, value string) {
	c.headers[key] = value
}

func (c *MQHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for k := range c.headers {
		keys = append(keys, k)
	}
	return keys
}
