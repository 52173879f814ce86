package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated caller's id.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the authenticated caller's role, or "".
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// SetIdentity stores a caller identity the way JWTAuth does.
func SetIdentity(c echo.Context, userID uint64, role string) {
	c.Set(ctxUserID, userID)
	c.Set(ctxRole, role)
}

// userKey renders the caller for rate-limit and log keys; "anon" when absent.
func userKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
