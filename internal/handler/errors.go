package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/schedule-seat-reservation/internal/reservation"
)

// Error codes returned in the "code" field of error bodies.
const (
	codeNotFound          = "NOT_FOUND"
	codeCapacityExceeded  = "CAPACITY_EXCEEDED"
	codeInvalidInput      = "INVALID_INPUT"
	codeInvalidTransition = "INVALID_TRANSITION"
	codeScheduleClosed    = "SCHEDULE_CLOSED"
	codeTrainUnavailable  = "TRAIN_UNAVAILABLE"
	codeContention        = "CONTENTION"
	codeForbidden         = "FORBIDDEN"
	codeTimeout           = "STORAGE_TIMEOUT"
	codeUnavailable       = "STORAGE_UNAVAILABLE"
	codePartialWrite      = "PARTIAL_WRITE"
	codeInternal          = "INTERNAL"
)

// retryAfterSeconds is the Retry-After hint sent with contention errors.
const retryAfterSeconds = 1

// writeError maps an engine error to an HTTP response.  It is the only
// place where engine errors become status codes.
func writeError(c echo.Context, err error) error {
	status, code := classify(err)
	if code == codeContention {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	msg := err.Error()
	if status == http.StatusInternalServerError && code == codeInternal {
		msg = "internal error"
	}
	return c.JSON(status, echo.Map{"error": msg, "code": code})
}

func classify(err error) (int, string) {
	switch {
	case reservation.IsNotFound(err):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, reservation.ErrCapacityExceeded):
		return http.StatusConflict, codeCapacityExceeded
	case errors.Is(err, reservation.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, reservation.ErrInvalidTransition):
		return http.StatusBadRequest, codeInvalidTransition
	case errors.Is(err, reservation.ErrScheduleClosed):
		return http.StatusConflict, codeScheduleClosed
	case errors.Is(err, reservation.ErrTrainUnavailable):
		return http.StatusConflict, codeTrainUnavailable
	case errors.Is(err, reservation.ErrContention):
		return http.StatusConflict, codeContention
	case errors.Is(err, reservation.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, reservation.ErrPartialWrite):
		return http.StatusInternalServerError, codePartialWrite
	case errors.Is(err, reservation.ErrStorageTimeout):
		return http.StatusGatewayTimeout, codeTimeout
	case errors.Is(err, reservation.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, codeUnavailable
	}
	return http.StatusInternalServerError, codeInternal
}
