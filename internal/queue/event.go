// Package queue defines message payloads exchanged over the message broker
// and the background consumer that handles them.
package queue

import (
	"time"

	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

// Queue names.  Both queues are durable and carry persistent JSON
// messages.
const (
	EventsQueue    = "reservation.events"
	ReconcileQueue = "reservation.reconcile"
)

// Lifecycle event types.
const (
	EventCreated   = "reservation.created"
	EventUpdated   = "reservation.updated"
	EventCancelled = "reservation.cancelled"
)

// ReservationEvent is published after a lifecycle operation commits.  It
// carries the reservation as committed so downstream consumers can log,
// notify or feed analytics without querying the primary database.
type ReservationEvent struct {
	Type        string            `json:"type"`
	Reservation model.Reservation `json:"reservation"`
	ActorID     string            `json:"actor_id"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// ReconcileRequest asks the consumer to rebuild a schedule's reservation
// view from the canonical records.  It is published when an operation
// could neither finish nor undo its writes.
type ReconcileRequest struct {
	ScheduleID    string    `json:"schedule_id"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Reason        string    `json:"reason"`
	RequestedAt   time.Time `json:"requested_at"`
}
