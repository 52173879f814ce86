// Package handler holds the Echo HTTP handlers. They translate requests
// into service.Engine calls and domain errors into status codes; no
// business rule lives here.
package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// requestTimeout bounds every store round trip a handler makes.
const requestTimeout = 5 * time.Second

func withTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// pathID parses a positive integer path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}
