package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sumire/buildd/internal/domain"
	"github.com/sumire/buildd/internal/queue"
	"github.com/sumire/buildd/internal/registry"
	"github.com/sumire/buildd/internal/repository"
)

// HeartbeatConsumer feeds the liveness registry from the
// worker-heartbeat queue.
type HeartbeatConsumer struct {
	broker   *queue.Broker
	registry *registry.Registry
	store    *repository.Store // optional
}

// NewHeartbeatConsumer creates a HeartbeatConsumer. store may be nil.
func NewHeartbeatConsumer(broker *queue.Broker, reg *registry.Registry, store *repository.Store) *HeartbeatConsumer {
	return &HeartbeatConsumer{broker: broker, registry: reg, store: store}
}

// Run consumes heartbeats until ctx is cancelled, restarting the
// consume loop on connection-level failures.
func (c *HeartbeatConsumer) Run(ctx context.Context) {
	runSupervised(ctx, "heartbeat", c.consume)
}

func (c *HeartbeatConsumer) consume(ctx context.Context) error {
	sess, err := c.broker.Open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	deliveries, err := sess.Consume(queue.HeartbeatQueue, "worker-heartbeat")
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("heartbeat delivery channel closed")
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *HeartbeatConsumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var heartbeat domain.WorkerHeartbeat
	if err := json.Unmarshal(delivery.Body, &heartbeat); err != nil {
		slog.Warn("skipping malformed heartbeat", "error", err)
		ack(delivery, "heartbeat")
		return
	}

	c.registry.RecordHeartbeat(heartbeat.Identifier)

	if c.store != nil {
		if err := c.store.UpsertWorker(ctx, heartbeat.Identifier, time.Now()); err != nil {
			slog.Warn("failed to record worker", "hostname", heartbeat.Identifier.Hostname, "error", err)
		}
	}

	ack(delivery, "heartbeat")
}

// ack acknowledges a delivery, logging instead of failing: an ack error
// means the message will be redelivered, which every consumer here
// tolerates.
func ack(delivery amqp.Delivery, kind string) {
	if err := delivery.Ack(false); err != nil {
		slog.Warn("failed to ack delivery", "kind", kind, "delivery_tag", delivery.DeliveryTag, "error", err)
	}
}
