package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ReconcileFunc rebuilds the reservation view of one schedule.
type ReconcileFunc func(ctx context.Context, scheduleID string) error

// Consumer listens to the reservation.reconcile and reservation.events
// queues.  Reconcile requests are applied through a ReconcileFunc;
// lifecycle events are written to the structured log.
type Consumer struct {
	url       string
	reconcile ReconcileFunc
	log       *zap.Logger
	timeout   time.Duration
	dial      func(url string) (*amqp.Connection, error)
}

// NewConsumer returns a Consumer for the broker at url.
func NewConsumer(url string, reconcile ReconcileFunc, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{url: url, reconcile: reconcile, log: log, timeout: 30 * time.Second, dial: amqp.Dial}
}

// Run connects to the broker, declares both queues (durable) and consumes
// until ctx is cancelled.  Lost connections are re-established with
// exponential backoff, so Run only returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := c.dial(c.url)
		if err != nil {
			wait := b.NextBackOff()
			c.log.Warn("reservation-consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", wait))
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}
		b.Reset() // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("reservation-consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("reservation-consumer: set QoS failed", zap.Error(err))
	}

	for _, name := range []string{ReconcileQueue, EventsQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
	}
	reconciles, err := ch.Consume(ReconcileQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume %s: %w", ReconcileQueue, err)
	}
	events, err := ch.Consume(EventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume %s: %w", EventsQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-reconciles:
			if !ok {
				return errors.New("reconcile deliveries channel closed")
			}
			c.settle(d, c.HandleReconcile(ctx, d.Body))
		case d, ok := <-events:
			if !ok {
				return errors.New("event deliveries channel closed")
			}
			c.settle(d, c.HandleEvent(d.Body))
		}
	}
}

// settle acks a handled delivery.  A failed delivery is requeued once and
// rejected when it fails again, so a poison message cannot spin.
func (c *Consumer) settle(d amqp.Delivery, err error) {
	if err == nil {
		_ = d.Ack(false)
		return
	}
	requeue := !d.Redelivered
	c.log.Error("reservation-consumer: handle message failed",
		zap.String("queue", d.RoutingKey),
		zap.Bool("requeue", requeue),
		zap.Error(err),
	)
	_ = d.Nack(false, requeue)
}

// HandleReconcile decodes a ReconcileRequest and reconciles its schedule.
func (c *Consumer) HandleReconcile(ctx context.Context, body []byte) error {
	var req ReconcileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if req.ScheduleID == "" {
		return errors.New("reconcile request without schedule_id")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.reconcile(ctx, req.ScheduleID); err != nil {
		return fmt.Errorf("reconcile schedule %s: %w", req.ScheduleID, err)
	}
	c.log.Info("reservation-consumer: schedule reconciled",
		zap.String("schedule_id", req.ScheduleID),
		zap.String("reservation_id", req.ReservationID),
		zap.String("reason", req.Reason),
		zap.Time("requested_at", req.RequestedAt),
	)
	return nil
}

// HandleEvent decodes a ReservationEvent and logs it.
func (c *Consumer) HandleEvent(body []byte) error {
	var ev ReservationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.Reservation.ID == "" {
		return errors.New("event without type or reservation")
	}
	c.log.Info(ev.Type,
		zap.String("reservation_id", ev.Reservation.ID),
		zap.String("schedule_id", ev.Reservation.ScheduleID),
		zap.String("user_id", ev.Reservation.UserID),
		zap.String("actor_id", ev.ActorID),
		zap.String("status", ev.Reservation.Status),
		zap.Int("reserved_count", ev.Reservation.ReservedCount),
		zap.Int64("amount_cents", ev.Reservation.AmountCents),
		zap.Time("occurred_at", ev.OccurredAt),
	)
	return nil
}
