package model

import "time"

// Reservation statuses.  Only RESERVED reservations consume seats.
const (
	ReservationPending   = "PENDING"
	ReservationReserved  = "RESERVED"
	ReservationCancelled = "CANCELLED"
)

// Reservation records a user's claim on a number of seats of a schedule.
// The row in the `reservations` table is the canonical record; a copy of
// the same values is embedded in the owning schedule's reservation view.
//
// Fields:
//
//	ID: opaque identifier generated on creation.
//	ScheduleID: schedule the seats are taken on (lookup only).
//	UserID: user the reservation belongs to.
//	DisplayName: name shown on the ticket.
//	ReservedCount: seats consumed while RESERVED; always positive.
//	ReservationDate: travel date requested by the user.
//	CreatedAt: creation timestamp (UTC).
//	Status: PENDING, RESERVED or CANCELLED.
//	AmountCents: amount charged, in cents.
type Reservation struct {
	ID              string    `json:"id"`
	ScheduleID      string    `json:"schedule_id"`
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name"`
	ReservedCount   int       `json:"reserved_count"`
	ReservationDate time.Time `json:"reservation_date"`
	CreatedAt       time.Time `json:"created_at"`
	Status          string    `json:"status"`
	AmountCents     int64     `json:"amount_cents"`
}

// IsReservationStatus reports whether s is a known reservation status.
func IsReservationStatus(s string) bool {
	switch s {
	case ReservationPending, ReservationReserved, ReservationCancelled:
		return true
	}
	return false
}

// Equal compares every field of two reservations.  Timestamps are
// compared as instants so that values read back from different storage
// locations compare equal regardless of their location.
func (r Reservation) Equal(o Reservation) bool {
	return r.ID == o.ID &&
		r.ScheduleID == o.ScheduleID &&
		r.UserID == o.UserID &&
		r.DisplayName == o.DisplayName &&
		r.ReservedCount == o.ReservedCount &&
		r.ReservationDate.Equal(o.ReservationDate) &&
		r.CreatedAt.Equal(o.CreatedAt) &&
		r.Status == o.Status &&
		r.AmountCents == o.AmountCents
}
