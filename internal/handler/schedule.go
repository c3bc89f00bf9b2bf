package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/schedule-seat-reservation/internal/middleware"
	"github.com/iliyamo/schedule-seat-reservation/internal/reservation"
)

// Availability handles GET /v1/schedules/:id/availability.
func (h *ReservationHandler) Availability(c echo.Context) error {
	a, err := h.svc.Availability(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// SchedulesForUser handles GET /v1/users/:id/schedules: the distinct
// schedules the user holds reservations on.
func (h *ReservationHandler) SchedulesForUser(c echo.Context) error {
	userID := c.Param("id")
	if err := reservation.Authorize(middleware.ActorFrom(c), userID); err != nil {
		return writeError(c, err)
	}
	list, err := h.svc.SchedulesForUser(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": nonNil(list)})
}

// AssignTrain handles PUT /v1/schedules/:id/train/:trainId.
func (h *ReservationHandler) AssignTrain(c echo.Context) error {
	s, err := h.svc.AssignTrain(c.Request().Context(), middleware.ActorFrom(c), c.Param("id"), c.Param("trainId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}
