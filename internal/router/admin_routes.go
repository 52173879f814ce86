package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/workshop-checkin/internal/handler"
	"github.com/iliyamo/workshop-checkin/internal/middleware"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

// RegisterAdmin registers the ADMIN-only endpoints under /v1/admin.
func RegisterAdmin(e *echo.Echo, w *handler.WorkshopHandler, ci *handler.CheckinHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.POST("/workshops", w.Create)
	g.POST("/workshops/:id/tokens", ci.WorkshopToken, limit)
	g.GET("/workshops/:id/attendees", ci.Attendees)
}
