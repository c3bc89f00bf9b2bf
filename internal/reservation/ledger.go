package reservation

import (
	"context"
	"errors"

	"github.com/iliyamo/schedule-seat-reservation/internal/model"
	"github.com/iliyamo/schedule-seat-reservation/internal/queue"
)

// Ledger is the seat ledger store the Manager works against.  Schedule
// writes are conditional on the version read earlier and return the new
// version; a mismatch is reported as repository.ErrVersionConflict.
// repository.LedgerRepo and repository.MemoryLedger implement it.
type Ledger interface {
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	GetReservation(ctx context.Context, id string) (model.Reservation, error)
	InsertReservation(ctx context.Context, r model.Reservation) error
	ReplaceReservation(ctx context.Context, id string, r model.Reservation) error
	DeleteReservation(ctx context.Context, id string) error
	PushToReservationsView(ctx context.Context, scheduleID string, expected uint64, r model.Reservation) (uint64, error)
	SetReservationsView(ctx context.Context, scheduleID string, expected uint64, view []model.Reservation) (uint64, error)
	ListReservationsBySchedule(ctx context.Context, scheduleID string) ([]model.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID string) ([]model.Reservation, error)
	ListReservationsByStatus(ctx context.Context, status string) ([]model.Reservation, error)
	GetTrain(ctx context.Context, id string) (*model.Train, error)
	SetTrain(ctx context.Context, scheduleID string, expected uint64, t *model.Train) (uint64, error)
}

// Locker serializes work on one schedule.  lock.Local, lock.Redis and
// lock.Chain implement it.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Publisher delivers lifecycle events and reconcile requests to the
// broker.  service.Publisher implements it.
type Publisher interface {
	PublishEvent(ctx context.Context, ev queue.ReservationEvent) error
	RequestReconcile(ctx context.Context, req queue.ReconcileRequest) error
}

// ErrNoBroker is returned for reconcile requests when no broker is
// configured.  Such schedules stay out of sync until Reconcile is called.
var ErrNoBroker = errors.New("no broker configured")

// nopPublisher drops events silently and reports dropped reconcile
// requests so that they are logged.
type nopPublisher struct{}

func (nopPublisher) PublishEvent(context.Context, queue.ReservationEvent) error     { return nil }
func (nopPublisher) RequestReconcile(context.Context, queue.ReconcileRequest) error { return ErrNoBroker }
