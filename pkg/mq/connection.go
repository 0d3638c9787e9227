package mq

import (
	"fmt"
	"net/url"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName 所有工作流事件都发到这个 topic exchange
	ExchangeName = "events"
)

// session is one connection plus the channel opened on it. Publisher and
// Consumer each own one.
type session struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// openSession dials the broker, opens a channel and declares the events and
// dead letter exchanges. On any failure nothing is left open.
func openSession(rawURL string) (*session, error) {
	conn, err := amqp091.Dial(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ at %s: %w", redactURL(rawURL), err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	s := &session{conn: conn, channel: ch}
	if err := declareTopology(ch); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func declareTopology(ch *amqp091.Channel) error {
	if err := DeclareExchange(ch); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}
	return nil
}

// alive reports whether both halves of the session are usable. Used by /readyz.
func (s *session) alive() bool {
	if s == nil || s.conn == nil || s.channel == nil {
		return false
	}
	return !s.conn.IsClosed() && !s.channel.IsClosed()
}

func (s *session) close() {
	if s == nil {
		return
	}
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// redactURL hides the password so dial errors can be logged.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

// DeclareExchange declares the events exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}
