package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/broadcast"
	"github.com/iliyamo/workshop-checkin/internal/middleware"
	"github.com/iliyamo/workshop-checkin/internal/model"
	"github.com/iliyamo/workshop-checkin/internal/service"
)

// EventsHandler streams broadcaster events over a websocket.
type EventsHandler struct {
	Engine *service.Engine
	Log    logrus.FieldLogger
}

func NewEventsHandler(e *service.Engine, log logrus.FieldLogger) *EventsHandler {
	return &EventsHandler{Engine: e, Log: log.WithField("component", "events")}
}

// Stream handles GET /v1/events. Only admins receive token_rotated events.
// An optional workshop_id query parameter narrows the stream.
func (h *EventsHandler) Stream(c echo.Context) error {
	var filters []broadcast.Filter
	// The role comes from the access token as issued. Registration still lets
	// anyone sign up as ADMIN, so this only separates the roles accounts were
	// created with; it is not an authorisation boundary for rotated tokens.
	if middleware.Role(c) != model.RoleAdmin {
		filters = append(filters, broadcast.WithoutKinds(model.EventTokenRotated))
	}
	if raw := c.QueryParam("workshop_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return badRequest(c, "invalid workshop_id")
		}
		filters = append(filters, broadcast.ForWorkshop(id))
	}
	broadcast.ServeWS(c.Response(), c.Request(), h.Engine.Events(), broadcast.All(filters...), h.Log)
	return nil
}
