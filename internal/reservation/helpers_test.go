package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/schedule-seat-reservation/internal/lock"
	"github.com/iliyamo/schedule-seat-reservation/internal/model"
	"github.com/iliyamo/schedule-seat-reservation/internal/queue"
	"github.com/iliyamo/schedule-seat-reservation/internal/repository"
)

const testScheduleID = "sch-1"

var (
	customer = model.Actor{UserID: "u1", Role: model.RoleCustomer}
	stranger = model.Actor{UserID: "u2", Role: model.RoleCustomer}
	owner    = model.Actor{UserID: "op", Role: model.RoleOwner}
)

// seedLedger returns a ledger holding one active schedule whose train
// seats the given number of passengers, plus an unassigned train "t-big".
func seedLedger(t *testing.T, seats int) *repository.MemoryLedger {
	t.Helper()
	ctx := context.Background()
	l := repository.NewMemoryLedger()
	train := &model.Train{ID: "t-1", Name: "IC 1", Number: "1", Status: model.TrainActive, PublishStatus: model.TrainPublished, TotalSeats: seats}
	require.NoError(t, l.CreateTrain(ctx, train))
	require.NoError(t, l.CreateTrain(ctx, &model.Train{ID: "t-big", Status: model.TrainActive, PublishStatus: model.TrainPublished, TotalSeats: 500}))
	require.NoError(t, l.CreateTrain(ctx, &model.Train{ID: "t-draft", Status: model.TrainActive, PublishStatus: model.TrainUnpublished, TotalSeats: 500}))
	require.NoError(t, l.CreateSchedule(ctx, &model.Schedule{
		ID:            testScheduleID,
		FromLocation:  "Tehran",
		ToLocation:    "Mashhad",
		StartDatetime: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
		EndDatetime:   time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC),
		Status:        model.ScheduleActive,
		Train:         train,
	}))
	return l
}

func newTestManager(l Ledger, opts ...Option) *Manager {
	base := []Option{
		WithRetryInterval(time.Millisecond),
		WithStorageTimeout(time.Second),
		WithLockWait(2 * time.Second),
	}
	return NewManager(l, lock.NewLocal(), append(base, opts...)...)
}

func input(count int) Input {
	return Input{
		DisplayName:     "Ann",
		ReservedCount:   count,
		ReservationDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		AmountCents:     int64(count) * 1500,
	}
}

// requireConsistent checks that the view and the canonical records of the
// schedule hold the same reservations with equal fields.
func requireConsistent(t *testing.T, l Ledger, scheduleID string) *model.Schedule {
	t.Helper()
	ctx := context.Background()
	s, err := l.GetSchedule(ctx, scheduleID)
	require.NoError(t, err)
	records, err := l.ListReservationsBySchedule(ctx, scheduleID)
	require.NoError(t, err)
	require.Len(t, s.Reservations, len(records), "view and canonical records differ in size")
	for _, entry := range s.Reservations {
		rec, err := l.GetReservation(ctx, entry.ID)
		require.NoError(t, err, "view entry %s has no canonical record", entry.ID)
		require.True(t, rec.Equal(entry), "view entry %s differs from canonical record", entry.ID)
	}
	return s
}

// faultyLedger wraps a MemoryLedger and lets a test replace single
// operations.
type faultyLedger struct {
	*repository.MemoryLedger
	getScheduleFn func(ctx context.Context, id string) (*model.Schedule, error)
	insertFn      func(ctx context.Context, r model.Reservation) error
	replaceFn     func(ctx context.Context, id string, r model.Reservation) error
	deleteFn      func(ctx context.Context, id string) error
	pushFn        func(ctx context.Context, scheduleID string, expected uint64, r model.Reservation) (uint64, error)
	setViewFn     func(ctx context.Context, scheduleID string, expected uint64, view []model.Reservation) (uint64, error)
}

func (f *faultyLedger) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	if f.getScheduleFn != nil {
		return f.getScheduleFn(ctx, id)
	}
	return f.MemoryLedger.GetSchedule(ctx, id)
}

func (f *faultyLedger) InsertReservation(ctx context.Context, r model.Reservation) error {
	if f.insertFn != nil {
		return f.insertFn(ctx, r)
	}
	return f.MemoryLedger.InsertReservation(ctx, r)
}

func (f *faultyLedger) ReplaceReservation(ctx context.Context, id string, r model.Reservation) error {
	if f.replaceFn != nil {
		return f.replaceFn(ctx, id, r)
	}
	return f.MemoryLedger.ReplaceReservation(ctx, id, r)
}

func (f *faultyLedger) DeleteReservation(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return f.MemoryLedger.DeleteReservation(ctx, id)
}

func (f *faultyLedger) PushToReservationsView(ctx context.Context, scheduleID string, expected uint64, r model.Reservation) (uint64, error) {
	if f.pushFn != nil {
		return f.pushFn(ctx, scheduleID, expected, r)
	}
	return f.MemoryLedger.PushToReservationsView(ctx, scheduleID, expected, r)
}

func (f *faultyLedger) SetReservationsView(ctx context.Context, scheduleID string, expected uint64, view []model.Reservation) (uint64, error) {
	if f.setViewFn != nil {
		return f.setViewFn(ctx, scheduleID, expected, view)
	}
	return f.MemoryLedger.SetReservationsView(ctx, scheduleID, expected, view)
}

// pushThenFail makes view appends reach the store and then report err,
// the way a write that commits just before its deadline looks to the
// caller.
func (f *faultyLedger) pushThenFail(err error) {
	f.pushFn = func(ctx context.Context, scheduleID string, expected uint64, r model.Reservation) (uint64, error) {
		if _, werr := f.MemoryLedger.PushToReservationsView(ctx, scheduleID, expected, r); werr != nil {
			return 0, werr
		}
		return 0, err
	}
}

// setViewThenFail is pushThenFail for whole-view writes.
func (f *faultyLedger) setViewThenFail(err error) {
	f.setViewFn = func(ctx context.Context, scheduleID string, expected uint64, view []model.Reservation) (uint64, error) {
		if _, werr := f.MemoryLedger.SetReservationsView(ctx, scheduleID, expected, view); werr != nil {
			return 0, werr
		}
		return 0, err
	}
}

// reservedSeats sums the canonical RESERVED seats of a schedule.
func reservedSeats(t *testing.T, l Ledger, scheduleID string) int {
	t.Helper()
	records, err := l.ListReservationsBySchedule(context.Background(), scheduleID)
	require.NoError(t, err)
	total := 0
	for _, r := range records {
		if r.Status == model.ReservationReserved {
			total += r.ReservedCount
		}
	}
	return total
}

// MockPublisher is a mock implementation of Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvent(ctx context.Context, ev queue.ReservationEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *MockPublisher) RequestReconcile(ctx context.Context, req queue.ReconcileRequest) error {
	return m.Called(ctx, req).Error(0)
}

// nopLocker never blocks; only the conditional writes protect the
// schedule.
type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }
