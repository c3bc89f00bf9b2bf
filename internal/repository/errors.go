// Package repository defines error types that are reused across the
// ledger implementations.  These sentinel values allow higher layers
// such as the reservation manager to distinguish between different
// failure scenarios without depending on a particular store.  For
// example, ErrVersionConflict signals that a conditional write lost a
// race against another writer of the same schedule, while the NotFound
// errors tell the caller which record was missing.
package repository

import "errors"

// ErrScheduleNotFound is returned when no schedule has the given ID.
var ErrScheduleNotFound = errors.New("schedule not found")

// ErrReservationNotFound is returned when no canonical reservation has
// the given ID.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrTrainNotFound is returned when no train has the given ID.
var ErrTrainNotFound = errors.New("train not found")

// ErrVersionConflict is returned by conditional schedule writes when the
// stored version no longer matches the expected one.  Callers should
// re-read the schedule and retry.
var ErrVersionConflict = errors.New("schedule version conflict")

// ErrDuplicate is returned when inserting a record whose ID already
// exists.
var ErrDuplicate = errors.New("duplicate record")
