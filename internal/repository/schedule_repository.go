package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

const scheduleColumns = `id, from_location, to_location, start_datetime, end_datetime,
	ticket_price_cents, status, train, reservations_view, version`

// GetSchedule loads a schedule with its train snapshot and reservation
// view.  It returns ErrScheduleNotFound if no row matches.
func (r *LedgerRepo) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	q := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`
	var (
		s     model.Schedule
		train []byte
		view  []byte
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.FromLocation, &s.ToLocation, &s.StartDatetime, &s.EndDatetime,
		&s.TicketPriceCents, &s.Status, &train, &view, &s.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(train) > 0 && string(train) != "null" {
		var t model.Train
		if err := json.Unmarshal(train, &t); err != nil {
			return nil, fmt.Errorf("decode train of schedule %s: %w", id, err)
		}
		s.Train = &t
	}
	s.Reservations = []model.Reservation{}
	if len(view) > 0 {
		if err := json.Unmarshal(view, &s.Reservations); err != nil {
			return nil, fmt.Errorf("decode reservations view of schedule %s: %w", id, err)
		}
	}
	return &s, nil
}

// CreateSchedule inserts a schedule.  The view is written as given (an
// empty array when nil) and the version starts at the schedule's Version.
func (r *LedgerRepo) CreateSchedule(ctx context.Context, s *model.Schedule) error {
	view, err := json.Marshal(model.CloneReservations(s.Reservations))
	if err != nil {
		return err
	}
	var train interface{}
	if s.Train != nil {
		b, err := json.Marshal(s.Train)
		if err != nil {
			return err
		}
		train = string(b)
	}
	const q = `INSERT INTO schedules (id, from_location, to_location, start_datetime, end_datetime,
		ticket_price_cents, status, train, reservations_view, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, q,
		s.ID, s.FromLocation, s.ToLocation, utc(s.StartDatetime), utc(s.EndDatetime),
		s.TicketPriceCents, s.Status, train, string(view), s.Version,
	)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// PushToReservationsView appends one entry to the schedule's view if the
// stored version still equals expected.  It returns the new version.
func (r *LedgerRepo) PushToReservationsView(ctx context.Context, scheduleID string, expected uint64, res model.Reservation) (uint64, error) {
	entry, err := json.Marshal(res)
	if err != nil {
		return 0, err
	}
	const q = `UPDATE schedules
		SET reservations_view = JSON_ARRAY_APPEND(COALESCE(reservations_view, JSON_ARRAY()), '$', CAST(? AS JSON)),
		    version = version + 1
		WHERE id = ? AND version = ?`
	return r.conditionalScheduleUpdate(ctx, scheduleID, expected, q, string(entry), scheduleID, expected)
}

// SetReservationsView replaces the whole view if the stored version still
// equals expected.  It returns the new version.
func (r *LedgerRepo) SetReservationsView(ctx context.Context, scheduleID string, expected uint64, view []model.Reservation) (uint64, error) {
	b, err := json.Marshal(model.CloneReservations(view))
	if err != nil {
		return 0, err
	}
	const q = `UPDATE schedules SET reservations_view = CAST(? AS JSON), version = version + 1
		WHERE id = ? AND version = ?`
	return r.conditionalScheduleUpdate(ctx, scheduleID, expected, q, string(b), scheduleID, expected)
}

// SetTrain stores a train snapshot on the schedule if the stored version
// still equals expected.  It returns the new version.
func (r *LedgerRepo) SetTrain(ctx context.Context, scheduleID string, expected uint64, t *model.Train) (uint64, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return 0, err
	}
	const q = `UPDATE schedules SET train = CAST(? AS JSON), version = version + 1
		WHERE id = ? AND version = ?`
	return r.conditionalScheduleUpdate(ctx, scheduleID, expected, q, string(b), scheduleID, expected)
}
