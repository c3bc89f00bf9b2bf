package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

const reservationColumns = `id, schedule_id, user_id, display_name, reserved_count,
	reservation_date, created_at, status, amount_cents`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(s rowScanner) (model.Reservation, error) {
	var res model.Reservation
	err := s.Scan(
		&res.ID, &res.ScheduleID, &res.UserID, &res.DisplayName, &res.ReservedCount,
		&res.ReservationDate, &res.CreatedAt, &res.Status, &res.AmountCents,
	)
	if err != nil {
		return model.Reservation{}, err
	}
	res.ReservationDate = res.ReservationDate.UTC()
	res.CreatedAt = res.CreatedAt.UTC()
	return res, nil
}

// GetReservation returns the canonical record of a reservation or
// ErrReservationNotFound.
func (r *LedgerRepo) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrReservationNotFound
	}
	return res, err
}

// InsertReservation writes a new canonical record.  The caller supplies
// the ID and CreatedAt.
func (r *LedgerRepo) InsertReservation(ctx context.Context, res model.Reservation) error {
	q := `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		res.ID, res.ScheduleID, res.UserID, res.DisplayName, res.ReservedCount,
		utc(res.ReservationDate), utc(res.CreatedAt), res.Status, res.AmountCents,
	)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// ReplaceReservation overwrites every column of the canonical record
// with the given ID except the ID itself.  MySQL reports zero affected
// rows when nothing changed, so a zero count is followed by an existence
// check.
func (r *LedgerRepo) ReplaceReservation(ctx context.Context, id string, res model.Reservation) error {
	const q = `UPDATE reservations SET schedule_id = ?, user_id = ?, display_name = ?, reserved_count = ?,
		reservation_date = ?, created_at = ?, status = ?, amount_cents = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, q,
		res.ScheduleID, res.UserID, res.DisplayName, res.ReservedCount,
		utc(res.ReservationDate), utc(res.CreatedAt), res.Status, res.AmountCents, id,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM reservations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrReservationNotFound
	}
	return err
}

// DeleteReservation physically removes a canonical record.  It is only
// used to undo an insert whose view write failed.
func (r *LedgerRepo) DeleteReservation(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// ListReservationsBySchedule returns every canonical record of a schedule
// ordered by creation time.
func (r *LedgerRepo) ListReservationsBySchedule(ctx context.Context, scheduleID string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE schedule_id = ? ORDER BY created_at, id`
	return r.list(ctx, q, scheduleID)
}

// ListReservationsByUser returns every canonical record owned by a user.
func (r *LedgerRepo) ListReservationsByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = ? ORDER BY created_at, id`
	return r.list(ctx, q, userID)
}

// ListReservationsByStatus returns every canonical record with the given
// status.
func (r *LedgerRepo) ListReservationsByStatus(ctx context.Context, status string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE status = ? ORDER BY created_at, id`
	return r.list(ctx, q, status)
}

func (r *LedgerRepo) list(ctx context.Context, q string, arg interface{}) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
