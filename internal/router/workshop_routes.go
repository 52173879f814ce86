package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/workshop-checkin/internal/handler"
	"github.com/iliyamo/workshop-checkin/internal/middleware"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

// RegisterWorkshops registers the attendee-facing workshop endpoints.
// Workshop reads are public and go through the response cache; token
// issuance and check-in pass the rate limiter after authentication so the
// bucket is keyed by user. Routes are registered one by one rather than on
// a group because the public GET shares the group's path prefix.
func RegisterWorkshops(e *echo.Echo, w *handler.WorkshopHandler, ci *handler.CheckinHandler, jwtSecret string, cache, limit echo.MiddlewareFunc) {
	e.GET("/v1/workshops/:id", w.Get, cache)

	auth := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAttendee, model.RoleAdmin),
	}
	limited := append(auth[:len(auth):len(auth)], limit)

	e.POST("/v1/workshops/:id/reservation", w.Reserve, auth...)
	e.DELETE("/v1/workshops/:id/reservation", w.Cancel, auth...)
	e.POST("/v1/workshops/:id/tokens/me", ci.MyToken, limited...)
	e.POST("/v1/workshops/:id/checkin", ci.CheckIn, limited...)
}
