package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

// Seeder is implemented by both ledgers.
type Seeder interface {
	CreateTrain(ctx context.Context, t *model.Train) error
	CreateSchedule(ctx context.Context, s *model.Schedule) error
}

// Fixture is the JSON document accepted by LoadFixture.  Schedules name
// their train by id; the train must appear in Trains.
type Fixture struct {
	Trains    []model.Train     `json:"trains"`
	Schedules []FixtureSchedule `json:"schedules"`
}

// FixtureSchedule is a schedule entry of a Fixture.
type FixtureSchedule struct {
	ID               string    `json:"id"`
	FromLocation     string    `json:"from_location"`
	ToLocation       string    `json:"to_location"`
	StartDatetime    time.Time `json:"start_datetime"`
	EndDatetime      time.Time `json:"end_datetime"`
	TicketPriceCents int64     `json:"ticket_price_cents"`
	Status           string    `json:"status"`
	TrainID          string    `json:"train_id"`
}

// LoadFixture decodes a Fixture from r and creates its trains and
// schedules.  Records that already exist are left untouched, so loading
// the same fixture on every start is safe.  It returns the number of
// records created.
func LoadFixture(ctx context.Context, r io.Reader, s Seeder) (int, error) {
	var f Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return 0, fmt.Errorf("decode fixture: %w", err)
	}

	trains := make(map[string]model.Train, len(f.Trains))
	created := 0
	for i := range f.Trains {
		t := f.Trains[i]
		trains[t.ID] = t
		if err := s.CreateTrain(ctx, &t); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return created, fmt.Errorf("create train %s: %w", t.ID, err)
		}
		created++
	}

	for _, fs := range f.Schedules {
		sch := &model.Schedule{
			ID:               fs.ID,
			FromLocation:     fs.FromLocation,
			ToLocation:       fs.ToLocation,
			StartDatetime:    fs.StartDatetime.UTC(),
			EndDatetime:      fs.EndDatetime.UTC(),
			TicketPriceCents: fs.TicketPriceCents,
			Status:           fs.Status,
			Reservations:     []model.Reservation{},
		}
		if sch.Status == "" {
			sch.Status = model.ScheduleActive
		}
		if fs.TrainID != "" {
			t, ok := trains[fs.TrainID]
			if !ok {
				return created, fmt.Errorf("schedule %s: %w: %s", fs.ID, ErrTrainNotFound, fs.TrainID)
			}
			sch.Train = &t
		}
		if err := s.CreateSchedule(ctx, sch); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return created, fmt.Errorf("create schedule %s: %w", fs.ID, err)
		}
		created++
	}
	return created, nil
}
