package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

// LedgerRepo is the MySQL seat ledger.  Schedules live in the schedules
// table together with their denormalized reservation view (a JSON
// column) and a version counter; canonical reservations live in the
// reservations table and trains in the trains table.  All timestamp
// fields are stored in UTC with microsecond precision.
type LedgerRepo struct {
	db *sql.DB
}

// NewLedgerRepo returns a new LedgerRepo bound to the given database.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

// mysqlDuplicateEntry is the server error number for a unique key
// violation.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// utc normalizes a timestamp to what a DATETIME(6) column stores.
func utc(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

// conditionalScheduleUpdate executes an UPDATE on schedules that is
// guarded by "WHERE id = ? AND version = ?" and bumps the version.  When
// no row matched it distinguishes a missing schedule from a lost race.
func (r *LedgerRepo) conditionalScheduleUpdate(ctx context.Context, scheduleID string, expected uint64, q string, args ...interface{}) (uint64, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		return expected + 1, nil
	}
	var current uint64
	err = r.db.QueryRowContext(ctx, `SELECT version FROM schedules WHERE id = ?`, scheduleID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrScheduleNotFound
	}
	if err != nil {
		return 0, err
	}
	return 0, ErrVersionConflict
}
