package reservation

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/schedule-seat-reservation/internal/capacity"
	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

// Synchronizer owns every write to a schedule's reservation view.  Writes
// are conditional on the schedule's Version; on success the in-memory
// schedule is updated to the stored state so further writes in the same
// operation chain correctly.  Callers must hold the schedule lock.
type Synchronizer struct {
	ledger  Ledger
	timeout time.Duration
	log     *zap.Logger
}

// NewSynchronizer returns a Synchronizer writing through ledger.
func NewSynchronizer(ledger Ledger, timeout time.Duration, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{ledger: ledger, timeout: timeout, log: log}
}

// ProjectInto inserts r into the view, or replaces the entry with the same
// ID.
func (sy *Synchronizer) ProjectInto(ctx context.Context, s *model.Schedule, r model.Reservation) error {
	idx := s.IndexOf(r.ID)
	if idx < 0 {
		var v uint64
		err := callStore(ctx, sy.timeout, func(c context.Context) (err error) {
			v, err = sy.ledger.PushToReservationsView(c, s.ID, s.Version, r)
			return err
		})
		if err != nil {
			return err
		}
		s.Reservations = append(s.Reservations, r)
		s.Version = v
		return nil
	}
	view := model.CloneReservations(s.Reservations)
	view[idx] = r
	return sy.setView(ctx, s, view)
}

// RemoveFrom marks the view entry with reservationID CANCELLED.  Entries
// are never dropped, so the view keeps the cancellation history.  A
// missing entry is not an error.
func (sy *Synchronizer) RemoveFrom(ctx context.Context, s *model.Schedule, reservationID string) error {
	idx := s.IndexOf(reservationID)
	if idx < 0 || s.Reservations[idx].Status == model.ReservationCancelled {
		return nil
	}
	view := model.CloneReservations(s.Reservations)
	view[idx].Status = model.ReservationCancelled
	return sy.setView(ctx, s, view)
}

func (sy *Synchronizer) setView(ctx context.Context, s *model.Schedule, view []model.Reservation) error {
	var v uint64
	err := callStore(ctx, sy.timeout, func(c context.Context) (err error) {
		v, err = sy.ledger.SetReservationsView(c, s.ID, s.Version, view)
		return err
	})
	if err != nil {
		return err
	}
	s.Reservations = view
	s.Version = v
	return nil
}

// ReconcileReport summarizes what Reconcile changed.
type ReconcileReport struct {
	ScheduleID string `json:"schedule_id"`
	// Dropped counts view entries without a canonical record.
	Dropped int `json:"dropped"`
	// Adopted counts canonical values copied into the view.
	Adopted int `json:"adopted"`
	// Reverted counts canonical records rolled back to keep the capacity
	// bound.
	Reverted int  `json:"reverted"`
	Changed  bool `json:"changed"`
}

type divergence struct {
	idx  int
	view *model.Reservation // nil when the view had no entry
	rec  model.Reservation
}

// Reconcile makes the view of s equal to the canonical records of the
// schedule.  Canonical values win unless adopting them would push the
// committed seats over capacity; in that case diverging records are
// rolled back newest first, to their view value when the view had one and
// to CANCELLED otherwise, until the bound holds again.
func (sy *Synchronizer) Reconcile(ctx context.Context, s *model.Schedule) (ReconcileReport, error) {
	report := ReconcileReport{ScheduleID: s.ID}

	var records []model.Reservation
	err := callStore(ctx, sy.timeout, func(c context.Context) (err error) {
		records, err = sy.ledger.ListReservationsBySchedule(c, s.ID)
		return err
	})
	if err != nil {
		return report, err
	}
	byID := make(map[string]model.Reservation, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	view := make([]model.Reservation, 0, len(records))
	seen := make(map[string]bool, len(s.Reservations))
	var diverged []divergence
	for i := range s.Reservations {
		entry := s.Reservations[i]
		rec, ok := byID[entry.ID]
		if !ok || seen[entry.ID] {
			report.Dropped++
			continue
		}
		seen[entry.ID] = true
		if !rec.Equal(entry) {
			diverged = append(diverged, divergence{idx: len(view), view: &entry, rec: rec})
		}
		view = append(view, rec)
	}
	for _, rec := range records {
		if seen[rec.ID] {
			continue
		}
		diverged = append(diverged, divergence{idx: len(view), rec: rec})
		view = append(view, rec)
	}

	limit := capacity.Capacity(s)
	if capacity.CommittedSeats(view, "") > limit {
		sort.SliceStable(diverged, func(i, j int) bool {
			a, b := diverged[i].rec, diverged[j].rec
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		})
		for k := range diverged {
			if capacity.CommittedSeats(view, "") <= limit {
				break
			}
			d := &diverged[k]
			rollback := d.rec
			rollback.Status = model.ReservationCancelled
			if d.view != nil {
				rollback = *d.view
			}
			if seats(rollback) >= seats(d.rec) {
				continue
			}
			if err := callStore(ctx, sy.timeout, func(c context.Context) error {
				return sy.ledger.ReplaceReservation(c, rollback.ID, rollback)
			}); err != nil {
				return report, err
			}
			view[d.idx] = rollback
			d.rec = rollback
			report.Reverted++
		}
		if committed := capacity.CommittedSeats(view, ""); committed > limit {
			sy.log.Error("schedule over capacity after reconcile",
				zap.String("schedule_id", s.ID),
				zap.Int("committed", committed),
				zap.Int("capacity", limit),
			)
		}
	}
	for _, d := range diverged {
		if d.view == nil || !d.view.Equal(d.rec) {
			report.Adopted++
		}
	}

	if !viewsEqual(s.Reservations, view) {
		if err := sy.setView(ctx, s, view); err != nil {
			return report, err
		}
		report.Changed = true
	}
	return report, nil
}

func seats(r model.Reservation) int {
	if r.Status != model.ReservationReserved {
		return 0
	}
	return r.ReservedCount
}

func viewsEqual(a, b []model.Reservation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
