// Package reservation implements the reservation capacity engine: the
// lifecycle operations that create, update and cancel reservations on a
// schedule without ever committing more RESERVED seats than the schedule's
// train carries, and the synchronizer that keeps each schedule's embedded
// reservation view equal to the canonical reservation records.
//
// Every mutation of a schedule runs under a per-schedule lock and writes
// the view conditionally on the schedule version read under that lock, so
// a lost lock cannot overbook.  A lost conditional write re-runs the whole
// operation a bounded number of times before giving up with ErrContention.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iliyamo/schedule-seat-reservation/internal/capacity"
	"github.com/iliyamo/schedule-seat-reservation/internal/model"
	"github.com/iliyamo/schedule-seat-reservation/internal/queue"
)

const tracerName = "github.com/iliyamo/schedule-seat-reservation/internal/reservation"

// Manager orchestrates reservation lifecycle operations.  It is safe for
// concurrent use.
type Manager struct {
	ledger Ledger
	locker Locker
	sync   *Synchronizer
	pub    Publisher
	log    *zap.Logger
	tracer trace.Tracer

	now   func() time.Time
	newID func() string

	storageTimeout time.Duration
	lockWait       time.Duration
	maxRetries     uint64
	retryInterval  time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger (default no-op).
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// WithPublisher sets the event publisher (default drops everything).
func WithPublisher(p Publisher) Option { return func(m *Manager) { m.pub = p } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithIDGenerator overrides the reservation ID generator.
func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }

// WithStorageTimeout bounds every individual store call (default 3s).
func WithStorageTimeout(d time.Duration) Option { return func(m *Manager) { m.storageTimeout = d } }

// WithLockWait bounds how long an operation waits for the schedule lock
// (default 5s).
func WithLockWait(d time.Duration) Option { return func(m *Manager) { m.lockWait = d } }

// WithMaxRetries bounds how often an operation is re-run after losing a
// conditional write (default 5).
func WithMaxRetries(n uint64) Option { return func(m *Manager) { m.maxRetries = n } }

// WithRetryInterval sets the initial backoff between re-runs (default 10ms).
func WithRetryInterval(d time.Duration) Option { return func(m *Manager) { m.retryInterval = d } }

// NewManager returns a Manager over ledger, serializing per schedule with
// locker.
func NewManager(ledger Ledger, locker Locker, opts ...Option) *Manager {
	m := &Manager{
		ledger:         ledger,
		locker:         locker,
		pub:            nopPublisher{},
		log:            zap.NewNop(),
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
		newID:          uuid.NewString,
		storageTimeout: 3 * time.Second,
		lockWait:       5 * time.Second,
		maxRetries:     5,
		retryInterval:  10 * time.Millisecond,
	}
	for _, o := range opts {
		o(m)
	}
	m.sync = NewSynchronizer(ledger, m.storageTimeout, m.log)
	return m
}

// Synchronizer returns the synchronizer used for view writes.
func (m *Manager) Synchronizer() *Synchronizer { return m.sync }

// CreateReservation books in.ReservedCount seats on the schedule.  It fails
// with ErrCapacityExceeded, leaving both representations untouched, when
// the seats do not fit.
func (m *Manager) CreateReservation(ctx context.Context, actor model.Actor, scheduleID string, in Input) (model.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Create", trace.WithAttributes(
		attribute.String("schedule.id", scheduleID),
		attribute.String("actor.id", actor.UserID),
	))
	defer span.End()

	if err := in.Validate(); err != nil {
		return model.Reservation{}, endSpan(span, err)
	}
	userID := in.UserID
	if userID == "" {
		userID = actor.UserID
	}
	if err := Authorize(actor, userID); err != nil {
		return model.Reservation{}, endSpan(span, err)
	}

	var created model.Reservation
	err := m.withRetry(ctx, func() error {
		return m.withScheduleLock(ctx, scheduleID, func() error {
			s, err := m.getSchedule(ctx, scheduleID)
			if err != nil {
				return err
			}
			if s.Status != model.ScheduleActive {
				return ErrScheduleClosed
			}
			status := in.statusOr(model.ReservationReserved)
			check := capacity.Evaluate(s, "", capacity.Requested(status, in.ReservedCount))
			if !check.Fits() {
				return capacityError(check)
			}
			r := model.Reservation{
				ID:              m.newID(),
				ScheduleID:      scheduleID,
				UserID:          userID,
				DisplayName:     in.DisplayName,
				ReservedCount:   in.ReservedCount,
				ReservationDate: in.ReservationDate,
				CreatedAt:       normalizeTime(m.now()),
				Status:          status,
				AmountCents:     in.AmountCents,
			}
			if err := m.commitCreate(ctx, s, r); err != nil {
				return err
			}
			created = r
			return nil
		})
	})
	if err != nil {
		return model.Reservation{}, endSpan(span, err)
	}

	span.SetAttributes(attribute.String("reservation.id", created.ID))
	m.log.Info("reservation created",
		zap.String("schedule_id", scheduleID),
		zap.String("reservation_id", created.ID),
		zap.String("actor_id", actor.UserID),
		zap.Int("reserved_count", created.ReservedCount),
	)
	m.publish(ctx, queue.EventCreated, actor, created)
	return created, nil
}

// UpdateReservation overwrites the mutable fields of a reservation on the
// schedule.  The reservation's own previous seats are not counted against
// the new value.  An input without a status keeps the current one.
func (m *Manager) UpdateReservation(ctx context.Context, actor model.Actor, scheduleID, reservationID string, in Input) (model.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Update", trace.WithAttributes(
		attribute.String("schedule.id", scheduleID),
		attribute.String("reservation.id", reservationID),
		attribute.String("actor.id", actor.UserID),
	))
	defer span.End()

	if err := in.Validate(); err != nil {
		return model.Reservation{}, endSpan(span, err)
	}

	var updated model.Reservation
	err := m.withRetry(ctx, func() error {
		return m.withScheduleLock(ctx, scheduleID, func() error {
			s, err := m.getSchedule(ctx, scheduleID)
			if err != nil {
				return err
			}
			if s.IndexOf(reservationID) < 0 {
				return ErrReservationNotFound
			}
			prev, err := m.getReservation(ctx, reservationID)
			if err != nil {
				return err
			}
			if err := Authorize(actor, prev.UserID); err != nil {
				return err
			}
			if prev.Status == model.ReservationCancelled {
				return fmt.Errorf("%w: reservation %s is cancelled", ErrInvalidTransition, reservationID)
			}
			status := in.statusOr(prev.Status)
			requested := capacity.Requested(status, in.ReservedCount)
			if requested > 0 && s.Status != model.ScheduleActive {
				return ErrScheduleClosed
			}
			check := capacity.Evaluate(s, reservationID, requested)
			if !check.Fits() {
				return capacityError(check)
			}
			next := prev
			next.ReservedCount = in.ReservedCount
			next.DisplayName = in.DisplayName
			next.ReservationDate = in.ReservationDate
			next.Status = status
			next.AmountCents = in.AmountCents
			if err := m.commitReplace(ctx, "update", s, prev, next, next, m.sync.ProjectInto); err != nil {
				return err
			}
			updated = next
			return nil
		})
	})
	if err != nil {
		return model.Reservation{}, endSpan(span, err)
	}

	m.log.Info("reservation updated",
		zap.String("schedule_id", scheduleID),
		zap.String("reservation_id", reservationID),
		zap.String("actor_id", actor.UserID),
		zap.String("status", updated.Status),
		zap.Int("reserved_count", updated.ReservedCount),
	)
	m.publish(ctx, queue.EventUpdated, actor, updated)
	return updated, nil
}

// CancelReservation marks a reservation CANCELLED in both the canonical
// record and the schedule view.  Nothing is removed physically.
// Cancelling an already cancelled reservation succeeds without writes.
func (m *Manager) CancelReservation(ctx context.Context, actor model.Actor, reservationID string) error {
	ctx, span := m.tracer.Start(ctx, "reservation.Cancel", trace.WithAttributes(
		attribute.String("reservation.id", reservationID),
		attribute.String("actor.id", actor.UserID),
	))
	defer span.End()

	r, err := m.getReservation(ctx, reservationID)
	if err != nil {
		return endSpan(span, err)
	}
	if err := Authorize(actor, r.UserID); err != nil {
		return endSpan(span, err)
	}
	span.SetAttributes(attribute.String("schedule.id", r.ScheduleID))

	var (
		cancelled model.Reservation
		changed   bool
	)
	err = m.withRetry(ctx, func() error {
		return m.withScheduleLock(ctx, r.ScheduleID, func() error {
			prev, err := m.getReservation(ctx, reservationID)
			if err != nil {
				return err
			}
			s, err := m.getSchedule(ctx, prev.ScheduleID)
			if err != nil {
				return err
			}
			idx := s.IndexOf(reservationID)
			if prev.Status == model.ReservationCancelled &&
				(idx < 0 || s.Reservations[idx].Status == model.ReservationCancelled) {
				cancelled = prev
				return nil
			}
			next := prev
			next.Status = model.ReservationCancelled
			want := next
			if idx >= 0 {
				want = s.Reservations[idx]
				want.Status = model.ReservationCancelled
			}
			project := func(ctx context.Context, s *model.Schedule, r model.Reservation) error {
				return m.sync.RemoveFrom(ctx, s, r.ID)
			}
			if err := m.commitReplace(ctx, "cancel", s, prev, next, want, project); err != nil {
				return err
			}
			cancelled, changed = next, true
			return nil
		})
	})
	if err != nil {
		return endSpan(span, err)
	}
	if !changed {
		return nil
	}

	m.log.Info("reservation cancelled",
		zap.String("schedule_id", cancelled.ScheduleID),
		zap.String("reservation_id", reservationID),
		zap.String("actor_id", actor.UserID),
	)
	m.publish(ctx, queue.EventCancelled, actor, cancelled)
	return nil
}

// DeleteReservation applies the same soft cancellation as
// CancelReservation.
func (m *Manager) DeleteReservation(ctx context.Context, actor model.Actor, reservationID string) error {
	return m.CancelReservation(ctx, actor, reservationID)
}

// Reconcile rebuilds a schedule's view from the canonical records under the
// schedule lock.
func (m *Manager) Reconcile(ctx context.Context, scheduleID string) (ReconcileReport, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Reconcile", trace.WithAttributes(
		attribute.String("schedule.id", scheduleID),
	))
	defer span.End()

	var report ReconcileReport
	err := m.withRetry(ctx, func() error {
		return m.withScheduleLock(ctx, scheduleID, func() error {
			s, err := m.getSchedule(ctx, scheduleID)
			if err != nil {
				return err
			}
			report, err = m.sync.Reconcile(context.WithoutCancel(ctx), s)
			return err
		})
	})
	if err != nil {
		return ReconcileReport{}, endSpan(span, err)
	}
	m.log.Info("schedule reconciled",
		zap.String("schedule_id", scheduleID),
		zap.Int("dropped", report.Dropped),
		zap.Int("adopted", report.Adopted),
		zap.Int("reverted", report.Reverted),
		zap.Bool("changed", report.Changed),
	)
	return report, nil
}

// commitCreate writes the canonical record and then appends it to the
// view.  Both writes run detached from the caller's cancellation.
func (m *Manager) commitCreate(ctx context.Context, s *model.Schedule, r model.Reservation) error {
	wctx := context.WithoutCancel(ctx)
	if err := m.store(wctx, func(c context.Context) error { return m.ledger.InsertReservation(c, r) }); err != nil {
		m.reconcileIfAmbiguous(wctx, s.ID, r.ID, "create: canonical write", err)
		return err
	}
	expected := s.Version
	viewErr := m.sync.ProjectInto(wctx, s, r)
	if viewErr == nil {
		return nil
	}
	undo := func(c context.Context) error { return m.ledger.DeleteReservation(c, r.ID) }
	return m.settleViewError(wctx, "create", s, expected, r, viewErr, undo)
}

// commitReplace overwrites the canonical record with next and then brings
// the view in line with project, which leaves the entry equal to want.
// If the view write fails the canonical record is restored to prev.
func (m *Manager) commitReplace(ctx context.Context, op string, s *model.Schedule, prev, next, want model.Reservation,
	project func(context.Context, *model.Schedule, model.Reservation) error) error {
	wctx := context.WithoutCancel(ctx)
	if err := m.store(wctx, func(c context.Context) error { return m.ledger.ReplaceReservation(c, next.ID, next) }); err != nil {
		m.reconcileIfAmbiguous(wctx, s.ID, next.ID, op+": canonical write", err)
		return err
	}
	expected := s.Version
	viewErr := project(wctx, s, next)
	if viewErr == nil {
		return nil
	}
	undo := func(c context.Context) error { return m.ledger.ReplaceReservation(c, prev.ID, prev) }
	return m.settleViewError(wctx, op, s, expected, want, viewErr, undo)
}

// settleViewError decides what a failed view write leaves behind.  A
// timeout or an unavailable store may still have applied the write, so
// the schedule is read again under the lock: a view at expected+1 holding
// want means the write landed and the operation succeeded, an unchanged
// version means it did not and the canonical write is undone.  Anything
// else, including a failed re-read, is reported as a partial write and
// nothing is undone.
func (m *Manager) settleViewError(ctx context.Context, op string, s *model.Schedule, expected uint64, want model.Reservation,
	viewErr error, undo func(context.Context) error) error {
	if isAmbiguous(viewErr) {
		fresh, err := m.getSchedule(ctx, s.ID)
		if err != nil {
			return m.partialWrite(ctx, op, s.ID, want.ID, errors.Join(viewErr, err))
		}
		switch {
		case fresh.Version == expected+1 && viewHolds(fresh, want):
			m.log.Warn("view write reported an error but was applied",
				zap.String("op", op),
				zap.String("schedule_id", s.ID),
				zap.String("reservation_id", want.ID),
				zap.Error(viewErr),
			)
			s.Reservations, s.Version = fresh.Reservations, fresh.Version
			return nil
		case fresh.Version != expected:
			return m.partialWrite(ctx, op, s.ID, want.ID, viewErr)
		}
	}
	if err := m.store(ctx, undo); err != nil {
		return m.partialWrite(ctx, op, s.ID, want.ID, errors.Join(viewErr, err))
	}
	m.reconcileIfAmbiguous(ctx, s.ID, want.ID, op+": view write", viewErr)
	return viewErr
}

func viewHolds(s *model.Schedule, want model.Reservation) bool {
	idx := s.IndexOf(want.ID)
	return idx >= 0 && s.Reservations[idx].Equal(want)
}

func isAmbiguous(err error) bool {
	return errors.Is(err, ErrStorageTimeout) || errors.Is(err, ErrStorageUnavailable)
}

// partialWrite reports a write that could neither finish nor be undone and
// asks for the schedule to be reconciled.
func (m *Manager) partialWrite(ctx context.Context, op, scheduleID, reservationID string, err error) error {
	m.log.Error("reservation partially written",
		zap.String("op", op),
		zap.String("schedule_id", scheduleID),
		zap.String("reservation_id", reservationID),
		zap.Error(err),
	)
	m.requestReconcile(ctx, scheduleID, reservationID, op+": partial write")
	return &PartialWriteError{ScheduleID: scheduleID, ReservationID: reservationID, Op: op, Err: err}
}

// reconcileIfAmbiguous requests a reconcile when a failed write may still
// have been applied by the store.
func (m *Manager) reconcileIfAmbiguous(ctx context.Context, scheduleID, reservationID, reason string, err error) {
	if isAmbiguous(err) {
		m.requestReconcile(ctx, scheduleID, reservationID, reason+": outcome unknown")
	}
}

func (m *Manager) requestReconcile(ctx context.Context, scheduleID, reservationID, reason string) {
	req := queue.ReconcileRequest{
		ScheduleID:    scheduleID,
		ReservationID: reservationID,
		Reason:        reason,
		RequestedAt:   m.now().UTC(),
	}
	if err := m.pub.RequestReconcile(ctx, req); err != nil {
		m.log.Error("reconcile request not delivered",
			zap.String("schedule_id", scheduleID),
			zap.String("reservation_id", reservationID),
			zap.Error(err),
		)
	}
}

// publish sends a lifecycle event.  Delivery is best effort.
func (m *Manager) publish(ctx context.Context, typ string, actor model.Actor, r model.Reservation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storageTimeout)
	defer cancel()
	ev := queue.ReservationEvent{Type: typ, Reservation: r, ActorID: actor.UserID, OccurredAt: m.now().UTC()}
	if err := m.pub.PublishEvent(ctx, ev); err != nil {
		m.log.Warn("event not published",
			zap.String("type", typ),
			zap.String("reservation_id", r.ID),
			zap.Error(err),
		)
	}
}

// withScheduleLock runs fn while holding the schedule's lock.  Waiting
// longer than the lock wait is contention.
func (m *Manager) withScheduleLock(ctx context.Context, scheduleID string, fn func() error) error {
	lctx, cancel := context.WithTimeout(ctx, m.lockWait)
	release, err := m.locker.Lock(lctx, "schedule:"+scheduleID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: schedule %s is locked", ErrContention, scheduleID)
		}
		return fmt.Errorf("%w: lock: %v", ErrStorageUnavailable, err)
	}
	defer release()
	return fn()
}

// withRetry re-runs op with exponential backoff while it loses conditional
// writes.  Any other outcome ends the loop.
func (m *Manager) withRetry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.retryInterval
	eb.MaxInterval = 20 * m.retryInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, m.maxRetries), ctx)

	err := backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, errVersionConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
	if errors.Is(err, errVersionConflict) {
		return fmt.Errorf("%w: gave up after %d retries", ErrContention, m.maxRetries)
	}
	return err
}

// store runs one store call under the storage timeout and translates its
// error.
func (m *Manager) store(ctx context.Context, fn func(context.Context) error) error {
	return callStore(ctx, m.storageTimeout, fn)
}

func callStore(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return translate(fn(ctx))
}

func (m *Manager) getSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	var s *model.Schedule
	err := m.store(ctx, func(c context.Context) (err error) {
		s, err = m.ledger.GetSchedule(c, id)
		return err
	})
	return s, err
}

func (m *Manager) getReservation(ctx context.Context, id string) (model.Reservation, error) {
	var r model.Reservation
	err := m.store(ctx, func(c context.Context) (err error) {
		r, err = m.ledger.GetReservation(c, id)
		return err
	})
	return r, err
}

func capacityError(c capacity.Check) error {
	return fmt.Errorf("%w: requested %d seats, %d of %d available",
		ErrCapacityExceeded, c.Requested, c.Available(), c.Capacity)
}

// Authorize lets owners and admins act on any reservation and everybody
// else only on their own.  It returns ErrForbidden otherwise.
func Authorize(actor model.Actor, ownerID string) error {
	switch actor.Role {
	case model.RoleOwner, model.RoleAdmin:
		return nil
	}
	if actor.UserID != "" && actor.UserID == ownerID {
		return nil
	}
	return ErrForbidden
}

// endSpan records err on span and returns it unchanged.
func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
