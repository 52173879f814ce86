package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
)

// kindStatus maps domain error kinds to HTTP statuses. The kind string
// itself is the stable "error" code in the response body.
var kindStatus = map[apperr.Kind]int{
	apperr.KindNotFound:         http.StatusNotFound,
	apperr.KindExpired:          http.StatusGone,
	apperr.KindFull:             http.StatusConflict,
	apperr.KindAlreadyReserved:  http.StatusConflict,
	apperr.KindAlreadyCheckedIn: http.StatusConflict,
	apperr.KindAlreadyUsed:      http.StatusConflict,
	apperr.KindInvalidToken:     http.StatusUnprocessableEntity,
	apperr.KindNoReservation:    http.StatusForbidden,
	apperr.KindConflict:         http.StatusInternalServerError,
}

// writeError renders err. Domain errors keep their message; anything else
// is logged and reported as a generic 500.
func writeError(c echo.Context, log logrus.FieldLogger, err error) error {
	var de *apperr.Error
	if errors.As(err, &de) {
		status, ok := kindStatus[de.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError {
			log.WithError(err).WithField("path", c.Path()).Error("request failed")
		}
		return c.JSON(status, echo.Map{"error": string(de.Kind), "message": de.Msg})
	}
	log.WithError(err).WithField("path", c.Path()).Error("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad_request", "message": msg})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "unauthorized"})
}
