package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

// GetTrain returns a train by ID or ErrTrainNotFound.
func (r *LedgerRepo) GetTrain(ctx context.Context, id string) (*model.Train, error) {
	const q = `SELECT id, name, number, status, publish_status, total_seats FROM trains WHERE id = ?`
	var t model.Train
	err := r.db.QueryRowContext(ctx, q, id).Scan(&t.ID, &t.Name, &t.Number, &t.Status, &t.PublishStatus, &t.TotalSeats)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTrainNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTrain inserts a train.
func (r *LedgerRepo) CreateTrain(ctx context.Context, t *model.Train) error {
	const q = `INSERT INTO trains (id, name, number, status, publish_status, total_seats) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, t.ID, t.Name, t.Number, t.Status, t.PublishStatus, t.TotalSeats)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}
