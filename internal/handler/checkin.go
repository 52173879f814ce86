package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/middleware"
	"github.com/iliyamo/workshop-checkin/internal/model"
	"github.com/iliyamo/workshop-checkin/internal/service"
)

// CheckinHandler serves token issuance, check-in and the attendee roster.
type CheckinHandler struct {
	Engine *service.Engine
	Log    logrus.FieldLogger
}

func NewCheckinHandler(e *service.Engine, log logrus.FieldLogger) *CheckinHandler {
	return &CheckinHandler{Engine: e, Log: log.WithField("component", "checkin-handler")}
}

type checkinReq struct {
	Token string `json:"token"`
}

// checkinResp leaves out the rotated workshop token: it belongs on the
// scanning station, not with the attendee.
type checkinResp struct {
	WorkshopID  uint64         `json:"workshop_id"`
	Attendee    model.Attendee `json:"attendee"`
	CheckedInAt time.Time      `json:"checked_in_at"`
}

// MyToken handles POST /v1/workshops/:id/tokens/me: a user-scoped token
// for the caller, who must hold a reservation.
func (h *CheckinHandler) MyToken(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	return h.issue(c, uid)
}

// WorkshopToken handles POST /v1/admin/workshops/:id/tokens: a
// workshop-scoped token for a scanning station. It replaces the previous one.
func (h *CheckinHandler) WorkshopToken(c echo.Context) error {
	return h.issue(c, 0)
}

func (h *CheckinHandler) issue(c echo.Context, userID uint64) error {
	wid, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid workshop id")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	tok, err := h.Engine.IssueToken(ctx, model.Scope{WorkshopID: wid, UserID: userID})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, tok)
}

// CheckIn handles POST /v1/workshops/:id/checkin with body {"token": "..."}.
// The caller's identity is the attendee being checked in.
func (h *CheckinHandler) CheckIn(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	wid, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid workshop id")
	}
	var req checkinReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		return badRequest(c, "token is required")
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	res, err := h.Engine.CheckIn(ctx, raw, wid, uid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, checkinResp{WorkshopID: wid, Attendee: res.Attendee, CheckedInAt: res.CheckedInAt})
}

// Attendees handles GET /v1/admin/workshops/:id/attendees.
func (h *CheckinHandler) Attendees(c echo.Context) error {
	wid, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid workshop id")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	roster, err := h.Engine.Attendees(ctx, wid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"workshop_id": wid, "attendees": roster, "count": len(roster)})
}
