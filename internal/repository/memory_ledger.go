package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

// MemoryLedger is an in-process seat ledger with the same semantics as
// LedgerRepo, including version-conditional schedule writes.  Values are
// copied on the way in and out so callers never share state with the
// store.  It backs APP_STORE=memory and the engine tests.
type MemoryLedger struct {
	mu           sync.RWMutex
	schedules    map[string]*model.Schedule
	reservations map[string]model.Reservation
	trains       map[string]model.Train
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		schedules:    make(map[string]*model.Schedule),
		reservations: make(map[string]model.Reservation),
		trains:       make(map[string]model.Train),
	}
}

// CreateSchedule stores a copy of s.
func (m *MemoryLedger) CreateSchedule(ctx context.Context, s *model.Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; ok {
		return ErrDuplicate
	}
	m.schedules[s.ID] = s.Clone()
	return nil
}

// CreateTrain stores a copy of t.
func (m *MemoryLedger) CreateTrain(ctx context.Context, t *model.Train) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trains[t.ID]; ok {
		return ErrDuplicate
	}
	m.trains[t.ID] = *t
	return nil
}

// GetSchedule returns a copy of the schedule or ErrScheduleNotFound.
func (m *MemoryLedger) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return s.Clone(), nil
}

// GetReservation returns the canonical record or ErrReservationNotFound.
func (m *MemoryLedger) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return model.Reservation{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return model.Reservation{}, ErrReservationNotFound
	}
	return r, nil
}

// InsertReservation stores a new canonical record.
func (m *MemoryLedger) InsertReservation(ctx context.Context, r model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[r.ID]; ok {
		return ErrDuplicate
	}
	m.reservations[r.ID] = r
	return nil
}

// ReplaceReservation overwrites an existing canonical record.
func (m *MemoryLedger) ReplaceReservation(ctx context.Context, id string, r model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[id]; !ok {
		return ErrReservationNotFound
	}
	r.ID = id
	m.reservations[id] = r
	return nil
}

// DeleteReservation removes a canonical record.
func (m *MemoryLedger) DeleteReservation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[id]; !ok {
		return ErrReservationNotFound
	}
	delete(m.reservations, id)
	return nil
}

// PushToReservationsView appends an entry when the version matches.
func (m *MemoryLedger) PushToReservationsView(ctx context.Context, scheduleID string, expected uint64, r model.Reservation) (uint64, error) {
	return m.updateSchedule(ctx, scheduleID, expected, func(s *model.Schedule) {
		s.Reservations = append(s.Reservations, r)
	})
}

// SetReservationsView replaces the view when the version matches.
func (m *MemoryLedger) SetReservationsView(ctx context.Context, scheduleID string, expected uint64, view []model.Reservation) (uint64, error) {
	return m.updateSchedule(ctx, scheduleID, expected, func(s *model.Schedule) {
		s.Reservations = model.CloneReservations(view)
	})
}

// SetTrain stores a train snapshot when the version matches.
func (m *MemoryLedger) SetTrain(ctx context.Context, scheduleID string, expected uint64, t *model.Train) (uint64, error) {
	snapshot := *t
	return m.updateSchedule(ctx, scheduleID, expected, func(s *model.Schedule) {
		s.Train = &snapshot
	})
}

func (m *MemoryLedger) updateSchedule(ctx context.Context, scheduleID string, expected uint64, apply func(*model.Schedule)) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID]
	if !ok {
		return 0, ErrScheduleNotFound
	}
	if s.Version != expected {
		return 0, ErrVersionConflict
	}
	apply(s)
	s.Version++
	return s.Version, nil
}

// ListReservationsBySchedule returns the canonical records of a schedule.
func (m *MemoryLedger) ListReservationsBySchedule(ctx context.Context, scheduleID string) ([]model.Reservation, error) {
	return m.filter(ctx, func(r model.Reservation) bool { return r.ScheduleID == scheduleID })
}

// ListReservationsByUser returns the canonical records of a user.
func (m *MemoryLedger) ListReservationsByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	return m.filter(ctx, func(r model.Reservation) bool { return r.UserID == userID })
}

// ListReservationsByStatus returns the canonical records with a status.
func (m *MemoryLedger) ListReservationsByStatus(ctx context.Context, status string) ([]model.Reservation, error) {
	return m.filter(ctx, func(r model.Reservation) bool { return r.Status == status })
}

// GetTrain returns a copy of the train or ErrTrainNotFound.
func (m *MemoryLedger) GetTrain(ctx context.Context, id string) (*model.Train, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trains[id]
	if !ok {
		return nil, ErrTrainNotFound
	}
	return &t, nil
}

// filter returns matching records in the same order LedgerRepo uses.
func (m *MemoryLedger) filter(ctx context.Context, keep func(model.Reservation) bool) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := []model.Reservation{}
	for _, r := range m.reservations {
		if keep(r) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
