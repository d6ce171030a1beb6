package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Builds can run for hours. Without an extended per-message ack
// deadline the broker would treat an in-progress job as abandoned and
// redeliver it.
const consumerTimeout = 24 * time.Hour

// Queue names for the control topics. Job queues are per-architecture,
// see domain.Job.QueueName.
const (
	HeartbeatQueue  = "worker-heartbeat"
	CompletionQueue = "job-completion"
	WebhooksQueue   = "github-webhooks"
)

// Broker knows how to open sessions against one AMQP endpoint.
type Broker struct {
	url string
}

// NewBroker creates a Broker for the given AMQP URL.
func NewBroker(url string) *Broker {
	return &Broker{url: url}
}

// Open dials the broker and opens a confirm-mode channel. The caller
// owns the returned session and must Close it.
func (b *Broker) Open(ctx context.Context) (*Session, error) {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &Session{conn: conn, ch: ch}, nil
}

// Session is one connection + channel pair. Sessions are not safe for
// concurrent use; each consumer or publisher opens its own.
type Session struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Close tears down the channel and connection.
func (s *Session) Close() error {
	if err := s.ch.Close(); err != nil {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}

// EnsureQueue idempotently declares a durable queue with the extended
// consumer timeout. Safe to call every time a publisher or consumer
// needs the queue; redeclaring with identical parameters is a no-op on
// the broker. Declaration failure is propagated, not retried.
func (s *Session) EnsureQueue(name string) (amqp.Queue, error) {
	q, err := s.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-consumer-timeout": int64(consumerTimeout / time.Millisecond),
	})
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return q, nil
}

// Publish sends body to the named queue as a persistent message and
// waits for the broker to confirm it was persisted.
func (s *Session) Publish(ctx context.Context, queueName string, body []byte) error {
	return s.PublishWithHeaders(ctx, queueName, body, nil)
}

// PublishWithHeaders is Publish with per-message AMQP headers, used to
// attach retry metadata when requeueing webhook events.
func (s *Session) PublishWithHeaders(ctx context.Context, queueName string, body []byte, headers amqp.Table) error {
	dc, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queueName, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", queueName, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected publish to %s", queueName)
	}
	return nil
}

// Consume ensures the queue exists and starts delivering from it. The
// returned channel closes when the underlying connection or channel
// fails, at which point the caller's supervising loop reopens a
// session. Deliveries require explicit Ack.
func (s *Session) Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error) {
	if _, err := s.EnsureQueue(queueName); err != nil {
		return nil, err
	}

	deliveries, err := s.ch.Consume(queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queueName, err)
	}
	return deliveries, nil
}
