package service

import (
	"context"
	"errors"
	"math"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	q "github.com/iliyamo/schedule-seat-reservation/internal/queue"
)

func TestPublisher_DialFailureIsReturned(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewPublisher("amqp://unused", zap.New(core))
	dialErr := errors.New("connection refused")
	var dialed []string
	p.dial = func(url string) (*amqp.Connection, error) {
		dialed = append(dialed, url)
		return nil, dialErr
	}

	err := p.RequestReconcile(context.Background(), q.ReconcileRequest{ScheduleID: "s1"})
	assert.ErrorIs(t, err, dialErr)
	err = p.PublishEvent(context.Background(), q.ReservationEvent{Type: q.EventCreated})
	assert.ErrorIs(t, err, dialErr)

	assert.Equal(t, []string{"amqp://unused", "amqp://unused"}, dialed)
	entries := logs.FilterMessage("rabbitmq: dial failed").All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, q.ReconcileQueue, entries[0].ContextMap()["queue"])
		assert.Equal(t, q.EventsQueue, entries[1].ContextMap()["queue"])
	}
}

func TestPublisher_MarshalFailureSkipsDial(t *testing.T) {
	p := NewPublisher("amqp://unused", nil)
	p.dial = func(string) (*amqp.Connection, error) {
		t.Fatal("dial must not be called")
		return nil, nil
	}
	err := p.publish(context.Background(), q.EventsQueue, math.Inf(1))
	assert.Error(t, err)
}
