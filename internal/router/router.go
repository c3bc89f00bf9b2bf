// Package router registers the HTTP routes of the service.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/schedule-seat-reservation/internal/handler"
	"github.com/iliyamo/schedule-seat-reservation/internal/middleware"
	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
}

// ReservationOptions carries the middleware shared by the reservation
// routes.  Nil middleware is skipped.
type ReservationOptions struct {
	JWTSecret string
	RateLimit echo.MiddlewareFunc // applied to every authenticated route
	Cache     echo.MiddlewareFunc // applied to read-only routes
}

// RegisterReservations registers the reservation API under /v1.  Every
// route requires a valid access token; ownership is checked per request.
// Listing by status and assigning trains are restricted to owners and
// admins.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, opts ReservationOptions) {
	mws := []echo.MiddlewareFunc{middleware.JWTAuth(opts.JWTSecret)}
	if opts.RateLimit != nil {
		mws = append(mws, opts.RateLimit)
	}
	g := e.Group("/v1", mws...)

	var read []echo.MiddlewareFunc
	if opts.Cache != nil {
		read = append(read, opts.Cache)
	}
	staff := middleware.RequireRole(model.RoleOwner, model.RoleAdmin)

	g.POST("/schedules/:id/reservations", h.Create)
	g.PUT("/schedules/:id/reservations/:rid", h.Update)
	g.GET("/schedules/:id/availability", h.Availability, read...)
	g.PUT("/schedules/:id/train/:trainId", h.AssignTrain, staff)

	g.GET("/reservations", h.ListByStatus, staff)
	g.GET("/reservations/:id", h.Get)
	g.POST("/reservations/:id/cancel", h.Cancel)
	g.DELETE("/reservations/:id", h.Delete)

	g.GET("/users/:id/reservations", h.ListByUser)
	g.GET("/users/:id/schedules", h.SchedulesForUser)
}
