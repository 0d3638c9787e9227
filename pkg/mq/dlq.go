package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DLQExchangeName = "events.dlq"
)

// DeclareDLQExchange declares the dead letter exchange.
func DeclareDLQExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		DLQExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// DeclareDLQQueue declares <queue>.dlq and binds it for every routing key of
// the source queue.
func DeclareDLQQueue(ch *amqp091.Channel, queueName string, routingKeys ...string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		fmt.Sprintf("%s.dlq", queueName),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, DLQExchangeName, false, nil); err != nil {
			return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
		}
	}
	return q, nil
}

// PublishToDLQ publishes a message to the dead letter exchange.
func (p *Publisher) PublishToDLQ(routingKey string, payload []byte, originalError, failedAt string) error {
	headers := amqp091.Table{
		"x-original-error": originalError,
		"x-failed-at":      failedAt,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.Publish(
		DLQExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
}
