package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/clock"
	"github.com/iliyamo/workshop-checkin/internal/config"
	"github.com/iliyamo/workshop-checkin/internal/middleware"
	"github.com/iliyamo/workshop-checkin/internal/model"
	"github.com/iliyamo/workshop-checkin/internal/utils"
)

// UserStore is the account persistence used by AuthHandler.
type UserStore interface {
	CreateUser(ctx context.Context, u model.User) (uint64, error)
	UserByEmail(ctx context.Context, email string) (model.User, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg   config.Config
	Users UserStore
	Clock clock.Clock
	Log   logrus.FieldLogger
}

func NewAuthHandler(cfg config.Config, users UserStore, clk clock.Clock, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: users, Clock: clk, Log: log.WithField("component", "auth")}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"` // ATTENDEE | ADMIN
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResp struct {
	User   model.User        `json:"user"`
	Access utils.AccessToken `json:"access"`
}

// Register creates an account and returns an access token immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role != model.RoleAdmin && role != model.RoleAttendee {
		role = model.RoleAttendee
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name, _, _ = strings.Cut(req.Email, "@")
	}

	hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, utils.ErrWeakPassword) {
			return badRequest(c, err.Error())
		}
		return writeError(c, h.Log, err)
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	u := model.User{Email: req.Email, Name: name, PasswordHash: hash, Role: role, CreatedAt: h.Clock.Now()}
	u.ID, err = h.Users.CreateUser(ctx, u)
	if err != nil {
		if errors.Is(err, apperr.ErrEmailExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email_exists", "message": err.Error()})
		}
		return writeError(c, h.Log, err)
	}
	return h.respond(c, http.StatusCreated, u)
}

// Login verifies credentials and returns a fresh access token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	u, err := h.Users.UserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_credentials", "message": "invalid credentials"})
		}
		return writeError(c, h.Log, err)
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_credentials", "message": "invalid credentials"})
	}
	return h.respond(c, http.StatusOK, u)
}

// Me echoes the caller identity carried by the access token.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	return c.JSON(http.StatusOK, echo.Map{"user_id": id, "role": middleware.Role(c)})
}

func (h *AuthHandler) respond(c echo.Context, status int, u model.User) error {
	ttl := time.Duration(h.Cfg.AccessTTLMin) * time.Minute
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, ttl, h.Clock.Now())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(status, authResp{User: u, Access: access})
}
