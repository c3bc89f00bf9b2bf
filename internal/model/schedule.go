package model

import "time"

// Schedule statuses.
const (
	ScheduleActive    = "ACTIVE"
	ScheduleCancelled = "CANCELLED"
)

// Schedule is a scheduled run of a train between two locations.  Its
// seat capacity comes from the assigned train; a schedule without a
// train cannot accept seat-consuming reservations.
//
// Reservations is a denormalized view of the canonical reservation
// records for this schedule.  It is only ever written through the
// reservation synchronizer.  Version increases on every write to the
// view or the train and is used for conditional updates.
type Schedule struct {
	ID               string        `json:"id"`
	FromLocation     string        `json:"from_location"`
	ToLocation       string        `json:"to_location"`
	StartDatetime    time.Time     `json:"start_datetime"`
	EndDatetime      time.Time     `json:"end_datetime"`
	TicketPriceCents int64         `json:"ticket_price_cents"`
	Status           string        `json:"status"`
	Train            *Train        `json:"train,omitempty"`
	Reservations     []Reservation `json:"reservations"`
	Version          uint64        `json:"version"`
}

// IndexOf returns the position of the reservation with the given ID in
// the view, or -1.
func (s *Schedule) IndexOf(reservationID string) int {
	for i := range s.Reservations {
		if s.Reservations[i].ID == reservationID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	c := *s
	if s.Train != nil {
		t := *s.Train
		c.Train = &t
	}
	c.Reservations = CloneReservations(s.Reservations)
	return &c
}

// CloneReservations copies a reservation slice.  A nil input yields an
// empty, non-nil slice so the view always encodes as a JSON array.
func CloneReservations(in []Reservation) []Reservation {
	out := make([]Reservation, len(in))
	copy(out, in)
	return out
}
