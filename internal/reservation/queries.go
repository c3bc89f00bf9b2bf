package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iliyamo/schedule-seat-reservation/internal/capacity"
	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

// Availability is the seat summary of a schedule.
type Availability struct {
	ScheduleID string `json:"schedule_id"`
	Capacity   int    `json:"capacity"`
	Committed  int    `json:"committed"`
	Available  int    `json:"available"`
	Version    uint64 `json:"version"`
}

// GetReservation returns the canonical record of a reservation.
func (m *Manager) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	return m.getReservation(ctx, id)
}

// ListReservationsByUser returns the reservations of a user, oldest first.
func (m *Manager) ListReservationsByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	var out []model.Reservation
	err := m.store(ctx, func(c context.Context) (err error) {
		out, err = m.ledger.ListReservationsByUser(c, userID)
		return err
	})
	return out, err
}

// ListReservationsByStatus returns every reservation with the given status.
func (m *Manager) ListReservationsByStatus(ctx context.Context, status string) ([]model.Reservation, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !model.IsReservationStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	var out []model.Reservation
	err := m.store(ctx, func(c context.Context) (err error) {
		out, err = m.ledger.ListReservationsByStatus(c, status)
		return err
	})
	return out, err
}

// SchedulesForUser returns the distinct schedules a user holds
// reservations on, in the order of the user's first reservation on each.
func (m *Manager) SchedulesForUser(ctx context.Context, userID string) ([]model.Schedule, error) {
	reservations, err := m.ListReservationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := []model.Schedule{}
	seen := make(map[string]bool)
	for _, r := range reservations {
		if seen[r.ScheduleID] {
			continue
		}
		seen[r.ScheduleID] = true
		s, err := m.getSchedule(ctx, r.ScheduleID)
		if errors.Is(err, ErrScheduleNotFound) {
			m.log.Warn("reservation references missing schedule",
				zap.String("schedule_id", r.ScheduleID),
				zap.String("reservation_id", r.ID),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// Availability reports capacity, committed and free seats of a schedule.
func (m *Manager) Availability(ctx context.Context, scheduleID string) (Availability, error) {
	s, err := m.getSchedule(ctx, scheduleID)
	if err != nil {
		return Availability{}, err
	}
	check := capacity.Evaluate(s, "", 0)
	return Availability{
		ScheduleID: s.ID,
		Capacity:   check.Capacity,
		Committed:  check.Committed,
		Available:  check.Available(),
		Version:    s.Version,
	}, nil
}

// AssignTrain sets the train, and with it the capacity, of a schedule.  The
// train must be active and published, and must seat at least the seats
// already committed on the schedule.
func (m *Manager) AssignTrain(ctx context.Context, actor model.Actor, scheduleID, trainID string) (*model.Schedule, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.AssignTrain", trace.WithAttributes(
		attribute.String("schedule.id", scheduleID),
		attribute.String("train.id", trainID),
		attribute.String("actor.id", actor.UserID),
	))
	defer span.End()

	if actor.Role != model.RoleOwner && actor.Role != model.RoleAdmin {
		return nil, endSpan(span, ErrForbidden)
	}

	var train *model.Train
	err := m.store(ctx, func(c context.Context) (err error) {
		train, err = m.ledger.GetTrain(c, trainID)
		return err
	})
	if err != nil {
		return nil, endSpan(span, err)
	}
	if !train.Bookable() {
		return nil, endSpan(span, ErrTrainUnavailable)
	}

	var updated *model.Schedule
	err = m.withRetry(ctx, func() error {
		return m.withScheduleLock(ctx, scheduleID, func() error {
			s, err := m.getSchedule(ctx, scheduleID)
			if err != nil {
				return err
			}
			committed := capacity.CommittedSeats(s.Reservations, "")
			if train.TotalSeats < committed {
				return fmt.Errorf("%w: train %s seats %d, %d already committed",
					ErrCapacityExceeded, train.ID, train.TotalSeats, committed)
			}
			var v uint64
			err = m.store(context.WithoutCancel(ctx), func(c context.Context) (err error) {
				v, err = m.ledger.SetTrain(c, s.ID, s.Version, train)
				return err
			})
			if err != nil {
				return err
			}
			t := *train
			s.Train = &t
			s.Version = v
			updated = s
			return nil
		})
	})
	if err != nil {
		return nil, endSpan(span, err)
	}
	m.log.Info("train assigned",
		zap.String("schedule_id", scheduleID),
		zap.String("train_id", trainID),
		zap.String("actor_id", actor.UserID),
		zap.Int("total_seats", train.TotalSeats),
	)
	return updated, nil
}
