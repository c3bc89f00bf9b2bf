package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/schedule-seat-reservation/internal/reservation"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: reservation.ErrScheduleNotFound, status: http.StatusNotFound, code: codeNotFound},
		{err: reservation.ErrReservationNotFound, status: http.StatusNotFound, code: codeNotFound},
		{err: reservation.ErrTrainNotFound, status: http.StatusNotFound, code: codeNotFound},
		{err: fmt.Errorf("%w: requested 3 seats, 1 of 10 available", reservation.ErrCapacityExceeded), status: http.StatusConflict, code: codeCapacityExceeded},
		{err: fmt.Errorf("%w: reserved_count(gt)", reservation.ErrInvalidInput), status: http.StatusBadRequest, code: codeInvalidInput},
		{err: reservation.ErrInvalidTransition, status: http.StatusBadRequest, code: codeInvalidTransition},
		{err: reservation.ErrScheduleClosed, status: http.StatusConflict, code: codeScheduleClosed},
		{err: reservation.ErrTrainUnavailable, status: http.StatusConflict, code: codeTrainUnavailable},
		{err: reservation.ErrContention, status: http.StatusConflict, code: codeContention},
		{err: reservation.ErrForbidden, status: http.StatusForbidden, code: codeForbidden},
		{err: reservation.ErrStorageTimeout, status: http.StatusGatewayTimeout, code: codeTimeout},
		{err: reservation.ErrStorageUnavailable, status: http.StatusServiceUnavailable, code: codeUnavailable},
		{
			err:    &reservation.PartialWriteError{ScheduleID: "s1", ReservationID: "r1", Op: "create", Err: reservation.ErrStorageTimeout},
			status: http.StatusInternalServerError,
			code:   codePartialWrite,
		},
		{err: errors.New("boom"), status: http.StatusInternalServerError, code: codeInternal},
	}
	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			assert.NoError(t, writeError(c, tt.err))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"`+tt.code+`"`)
			if tt.code == codeContention {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	assert.NoError(t, writeError(c, errors.New("dial tcp 10.0.0.7:3306: secret detail")))
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")
}

func TestHealth(t *testing.T) {
	e := echo.New()
	down := errors.New("connection refused")
	e.GET("/ok", Health(map[string]Check{"db": func(context.Context) error { return nil }}))
	e.GET("/down", Health(map[string]Check{"db": func(context.Context) error { return down }}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/down", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
