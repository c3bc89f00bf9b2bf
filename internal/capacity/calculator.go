// Package capacity computes committed seats for a schedule.  Everything
// here is pure: callers supply the reservations and decide what to do
// with the result.
package capacity

import "github.com/iliyamo/schedule-seat-reservation/internal/model"

// CommittedSeats sums ReservedCount over RESERVED reservations, skipping
// the reservation whose ID equals excludeID when excludeID is non-empty.
// The exclusion lets an update be checked without counting the
// reservation's previous value against itself.
func CommittedSeats(reservations []model.Reservation, excludeID string) int {
	total := 0
	for _, r := range reservations {
		if r.Status != model.ReservationReserved {
			continue
		}
		if excludeID != "" && r.ID == excludeID {
			continue
		}
		total += r.ReservedCount
	}
	return total
}

// Capacity returns the seat bound of a schedule: the assigned train's
// TotalSeats, or 0 when no train is assigned.
func Capacity(s *model.Schedule) int {
	if s == nil || s.Train == nil || s.Train.TotalSeats < 0 {
		return 0
	}
	return s.Train.TotalSeats
}

// Requested returns the seats a create or update must find room for.
// Cancellations never need seats.
func Requested(status string, count int) int {
	if status == model.ReservationCancelled {
		return 0
	}
	return count
}

// Check is the outcome of evaluating a request against a schedule.
type Check struct {
	Capacity  int `json:"capacity"`
	Committed int `json:"committed"`
	Requested int `json:"requested"`
}

// Fits reports whether the request keeps committed seats within capacity.
func (c Check) Fits() bool {
	return c.Committed+c.Requested <= c.Capacity
}

// Available returns the seats left before the request is applied.
func (c Check) Available() int {
	if c.Committed >= c.Capacity {
		return 0
	}
	return c.Capacity - c.Committed
}

// Evaluate checks a request for requested seats against the schedule's
// reservation view.
func Evaluate(s *model.Schedule, excludeID string, requested int) Check {
	var view []model.Reservation
	if s != nil {
		view = s.Reservations
	}
	return Check{
		Capacity:  Capacity(s),
		Committed: CommittedSeats(view, excludeID),
		Requested: requested,
	}
}
