package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/middleware"
	"github.com/iliyamo/workshop-checkin/internal/service"
)

// WorkshopHandler serves workshop reads, reservations and admin creation.
type WorkshopHandler struct {
	Engine *service.Engine
	Log    logrus.FieldLogger

	// Evict, when set, is called with the workshop's read path after a seat
	// change so a cached GET does not keep serving the old count.
	Evict func(ctx context.Context, path string)
}

func NewWorkshopHandler(e *service.Engine, log logrus.FieldLogger) *WorkshopHandler {
	return &WorkshopHandler{Engine: e, Log: log.WithField("component", "workshop-handler")}
}

type createWorkshopReq struct {
	Title string `json:"title"`
	Seats int    `json:"total_seats"`
	Date  string `json:"date"` // YYYY-MM-DD
}

type seatsResp struct {
	WorkshopID     uint64 `json:"workshop_id"`
	AvailableSeats int    `json:"available_seats"`
}

// Get handles GET /v1/workshops/:id.
func (h *WorkshopHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid workshop id")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	w, err := h.Engine.Workshop(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, w)
}

// Reserve handles POST /v1/workshops/:id/reservation for the caller.
func (h *WorkshopHandler) Reserve(c echo.Context) error {
	return h.seat(c, h.Engine.Reserve, http.StatusCreated)
}

// Cancel handles DELETE /v1/workshops/:id/reservation for the caller.
func (h *WorkshopHandler) Cancel(c echo.Context) error {
	return h.seat(c, h.Engine.CancelReservation, http.StatusOK)
}

func (h *WorkshopHandler) seat(c echo.Context, op func(context.Context, uint64, uint64) (int, error), status int) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	wid, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid workshop id")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	left, err := op(ctx, wid, uid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if h.Evict != nil {
		h.Evict(ctx, "/v1/workshops/"+strconv.FormatUint(wid, 10))
	}
	return c.JSON(status, seatsResp{WorkshopID: wid, AvailableSeats: left})
}

// Create handles POST /v1/admin/workshops.
func (h *WorkshopHandler) Create(c echo.Context) error {
	var req createWorkshopReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return badRequest(c, "title is required")
	}
	if req.Seats <= 0 {
		return badRequest(c, "total_seats must be positive")
	}
	date, err := time.Parse(time.DateOnly, strings.TrimSpace(req.Date))
	if err != nil {
		return badRequest(c, "date must be YYYY-MM-DD")
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	w, err := h.Engine.CreateWorkshop(ctx, req.Title, req.Seats, date)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, w)
}
