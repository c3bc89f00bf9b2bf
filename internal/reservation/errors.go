package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/schedule-seat-reservation/internal/repository"
)

// Errors returned by the Manager.  Callers compare with errors.Is.
var (
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrTrainNotFound       = errors.New("train not found")
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrContention          = errors.New("too much contention on schedule")
	ErrStorageTimeout      = errors.New("storage timeout")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrScheduleClosed      = errors.New("schedule is not accepting reservations")
	ErrTrainUnavailable    = errors.New("train is not active and published")
	ErrForbidden           = errors.New("reservation belongs to another user")
	ErrPartialWrite        = errors.New("partial write")
)

// PartialWriteError reports that the canonical record was written but the
// schedule view could not be brought in line, and undoing the canonical
// write failed as well.  A reconcile request has been issued for the
// schedule.
type PartialWriteError struct {
	ScheduleID    string
	ReservationID string
	Op            string
	Err           error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s reservation %s on schedule %s: partial write: %v", e.Op, e.ReservationID, e.ScheduleID, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPartialWrite) match.
func (e *PartialWriteError) Is(target error) bool { return target == ErrPartialWrite }

// IsNotFound reports whether err is one of the not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrTrainNotFound)
}

// IsRetryable reports whether the caller may resubmit the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) ||
		errors.Is(err, ErrStorageTimeout) ||
		errors.Is(err, ErrStorageUnavailable)
}

// errVersionConflict marks a lost conditional write inside the manager; it
// never leaves the package.
var errVersionConflict = repository.ErrVersionConflict

// translate maps store errors onto the package's error taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrScheduleNotFound):
		return ErrScheduleNotFound
	case errors.Is(err, repository.ErrReservationNotFound):
		return ErrReservationNotFound
	case errors.Is(err, repository.ErrTrainNotFound):
		return ErrTrainNotFound
	case errors.Is(err, repository.ErrVersionConflict):
		return errVersionConflict
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}
