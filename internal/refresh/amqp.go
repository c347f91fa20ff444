package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const consumerTag = "medrag-refresh"

// Event is the body of a graph update message. Every field is optional.
type Event struct {
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at,omitempty"`
}

// AMQPTrigger rebuilds the index whenever a graph update event arrives.
type AMQPTrigger struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string

	refresher *Refresher
	logger    *slog.Logger
}

func NewAMQPTrigger(url, exchange, queue, routingKey string, r *Refresher, logger *slog.Logger) *AMQPTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPTrigger{
		URL:        url,
		Exchange:   exchange,
		Queue:      queue,
		RoutingKey: routingKey,
		refresher:  r,
		logger:     logger.With("component", "amqp_trigger"),
	}
}

// Setup declares the topic exchange and a durable queue bound to the routing key.
func Setup(ch *amqp.Channel, exchange, queue, routingKey string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	return nil
}

// Run consumes events until ctx is done or the broker closes the channel.
func (t *AMQPTrigger) Run(ctx context.Context) error {
	conn, err := amqp.Dial(t.URL)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := Setup(ch, t.Exchange, t.Queue, t.RoutingKey); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, t.Queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", t.Queue, err)
	}

	t.logger.Info("waiting for graph update events", "queue", t.Queue, "routing_key", t.RoutingKey)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed by broker")
			}
			t.handle(ctx, d)
		}
	}
}

// handle rebuilds for one delivery. Events older than the current index are
// acknowledged without a rebuild, so a burst of updates costs one rebuild.
func (t *AMQPTrigger) handle(ctx context.Context, d amqp.Delivery) {
	at := eventTime(d)
	if built := t.refresher.Holder.Load().BuiltAt(); !at.IsZero() && at.Before(built) {
		t.logger.Debug("event predates current index, skipping", "event_at", at, "built_at", built)
		t.ack(d)
		return
	}

	if _, err := t.refresher.Reindex(ctx); err != nil {
		t.logger.Error("reindex after event failed", "error", err, "redelivered", d.Redelivered)
		// One redelivery, then drop.
		if err := d.Nack(false, !d.Redelivered); err != nil {
			t.logger.Error("failed to nack graph update event", "delivery_tag", d.DeliveryTag, "error", err)
		}
		return
	}
	t.ack(d)
}

func (t *AMQPTrigger) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		t.logger.Error("failed to ack graph update event", "delivery_tag", d.DeliveryTag, "error", err)
	}
}

func eventTime(d amqp.Delivery) time.Time {
	var ev Event
	if len(d.Body) > 0 && json.Unmarshal(d.Body, &ev) == nil && !ev.At.IsZero() {
		return ev.At
	}
	return d.Timestamp
}

// Publish sends one graph update event.
func Publish(ctx context.Context, url, exchange, routingKey string, ev Event) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Body:         body,
	})
}
