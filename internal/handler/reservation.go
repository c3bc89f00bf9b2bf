package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/schedule-seat-reservation/internal/middleware"
	"github.com/iliyamo/schedule-seat-reservation/internal/model"
	"github.com/iliyamo/schedule-seat-reservation/internal/reservation"
)

// ReservationService is the part of the reservation manager the HTTP
// surface depends on.
type ReservationService interface {
	CreateReservation(ctx context.Context, actor model.Actor, scheduleID string, in reservation.Input) (model.Reservation, error)
	UpdateReservation(ctx context.Context, actor model.Actor, scheduleID, reservationID string, in reservation.Input) (model.Reservation, error)
	CancelReservation(ctx context.Context, actor model.Actor, reservationID string) error
	DeleteReservation(ctx context.Context, actor model.Actor, reservationID string) error
	GetReservation(ctx context.Context, id string) (model.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID string) ([]model.Reservation, error)
	ListReservationsByStatus(ctx context.Context, status string) ([]model.Reservation, error)
	SchedulesForUser(ctx context.Context, userID string) ([]model.Schedule, error)
	Availability(ctx context.Context, scheduleID string) (reservation.Availability, error)
	AssignTrain(ctx context.Context, actor model.Actor, scheduleID, trainID string) (*model.Schedule, error)
}

// ReservationHandler exposes reservation lifecycle operations.  All
// methods assume JWTAuth has run; the actor is taken from the request
// context and passed to the service explicitly.
type ReservationHandler struct {
	svc ReservationService
}

// NewReservationHandler returns a handler backed by svc.
func NewReservationHandler(svc ReservationService) *ReservationHandler {
	if svc == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{svc: svc}
}

func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": codeInvalidInput})
}

// Create handles POST /v1/schedules/:id/reservations.  It returns 201
// with the committed reservation.
func (h *ReservationHandler) Create(c echo.Context) error {
	var in reservation.Input
	if err := c.Bind(&in); err != nil {
		return badBody(c)
	}
	r, err := h.svc.CreateReservation(c.Request().Context(), middleware.ActorFrom(c), c.Param("id"), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// Update handles PUT /v1/schedules/:id/reservations/:rid.  A body without
// "status" keeps the reservation's current status.
func (h *ReservationHandler) Update(c echo.Context) error {
	var in reservation.Input
	if err := c.Bind(&in); err != nil {
		return badBody(c)
	}
	r, err := h.svc.UpdateReservation(c.Request().Context(), middleware.ActorFrom(c), c.Param("id"), c.Param("rid"), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// Cancel handles POST /v1/reservations/:id/cancel.  Cancelling an already
// cancelled reservation also returns 204.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	if err := h.svc.CancelReservation(c.Request().Context(), middleware.ActorFrom(c), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete handles DELETE /v1/reservations/:id.  The record is kept with
// status CANCELLED.
func (h *ReservationHandler) Delete(c echo.Context) error {
	if err := h.svc.DeleteReservation(c.Request().Context(), middleware.ActorFrom(c), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	r, err := h.svc.GetReservation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := reservation.Authorize(middleware.ActorFrom(c), r.UserID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// ListByUser handles GET /v1/users/:id/reservations.
func (h *ReservationHandler) ListByUser(c echo.Context) error {
	userID := c.Param("id")
	if err := reservation.Authorize(middleware.ActorFrom(c), userID); err != nil {
		return writeError(c, err)
	}
	list, err := h.svc.ListReservationsByUser(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": nonNil(list)})
}

// ListByStatus handles GET /v1/reservations?status=.  Owners and admins
// only; the router enforces the role.
func (h *ReservationHandler) ListByStatus(c echo.Context) error {
	list, err := h.svc.ListReservationsByStatus(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": nonNil(list)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
