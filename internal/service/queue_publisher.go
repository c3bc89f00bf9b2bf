// Package service provides the RabbitMQ publisher for reservation
// lifecycle events and reconcile requests.  Errors are logged and
// returned so callers can decide whether a failed publish matters.
package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	q "github.com/iliyamo/schedule-seat-reservation/internal/queue"
)

// Publisher publishes JSON messages to durable queues on the default
// exchange.  It dials per publish; the volume of lifecycle events does not
// warrant a pooled channel.
type Publisher struct {
	url  string
	log  *zap.Logger
	dial func(url string) (*amqp.Connection, error)
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{url: url, log: log, dial: amqp.Dial}
}

// PublishEvent publishes a lifecycle event to the reservation.events
// queue.
func (p *Publisher) PublishEvent(ctx context.Context, ev q.ReservationEvent) error {
	return p.publish(ctx, q.EventsQueue, ev)
}

// RequestReconcile publishes a reconcile request to the
// reservation.reconcile queue.
func (p *Publisher) RequestReconcile(ctx context.Context, req q.ReconcileRequest) error {
	return p.publish(ctx, q.ReconcileQueue, req)
}

func (p *Publisher) publish(ctx context.Context, queue string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		p.log.Error("rabbitmq: marshal failed", zap.String("queue", queue), zap.Error(err))
		return err
	}

	conn, err := p.dial(p.url)
	if err != nil {
		p.log.Warn("rabbitmq: dial failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("rabbitmq: channel open failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		p.log.Warn("rabbitmq: queue declare failed", zap.String("queue", queue), zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue name
		false, // mandatory
		false, // immediate
		pub,
	); err != nil {
		p.log.Warn("rabbitmq: publish failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	return nil
}
