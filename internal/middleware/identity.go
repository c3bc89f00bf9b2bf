package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

// ActorFrom returns the authenticated actor stored by JWTAuth.  The zero
// Actor is returned for unauthenticated requests.
func ActorFrom(c echo.Context) model.Actor {
	id, _ := c.Get(ctxUserID).(string)
	role, _ := c.Get(ctxRole).(string)
	return model.Actor{UserID: id, Role: role}
}

// userID returns the authenticated user id, or "anon".
func userID(c echo.Context) string {
	if id := ActorFrom(c).UserID; id != "" {
		return id
	}
	return "anon"
}
