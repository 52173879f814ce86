// Package router registers the HTTP routes on an Echo instance. Each
// Register* function owns one route group and its middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/workshop-checkin/internal/handler"
	"github.com/iliyamo/workshop-checkin/internal/middleware"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers register/login under /v1/auth and the protected
// /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterEvents exposes the websocket event stream. Browsers pass the
// access token as ?access_token= since they cannot set headers on upgrade.
func RegisterEvents(e *echo.Echo, h *handler.EventsHandler, jwtSecret string) {
	e.GET("/v1/events", h.Stream,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAttendee, model.RoleAdmin),
	)
}
