// Package checkin sequences a check-in attempt: reservation lookup, token
// consumption, the attendance write and the resulting events. Every attempt
// ends on its first success or failure and nothing is retried here.
//
// A token is consumed before the duplicate-attendance check. A user who is
// already checked in therefore burns the token they present and receives
// AlreadyCheckedIn. Tokens are single presentation credentials, so a
// consumed token is never re-credited.
package checkin

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/clock"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

// ReservationChecker answers whether a user holds a reservation.
type ReservationChecker interface {
	HasReservation(ctx context.Context, workshopID, userID uint64) (bool, error)
}

// TokenStore is the part of token.Store the coordinator needs.
type TokenStore interface {
	Issue(ctx context.Context, scope model.Scope) (model.Token, error)
	Consume(ctx context.Context, token string, want model.Scope) (model.Scope, error)
}

// AttendanceStore persists attendance records. InsertAttendance must return
// apperr.ErrAlreadyCheckedIn when the pair already exists.
type AttendanceStore interface {
	AttendanceExists(ctx context.Context, workshopID, userID uint64) (bool, error)
	InsertAttendance(ctx context.Context, a model.Attendance) error
	ListAttendance(ctx context.Context, workshopID uint64) ([]model.Attendance, error)
}

// Directory resolves user identities.
type Directory interface {
	UserByID(ctx context.Context, id uint64) (model.User, error)
}

// Publisher receives events after a successful check-in.
type Publisher interface {
	Publish(kind model.EventKind, payload any)
}

// Result describes a successful check-in. RotatedToken is set when the
// presented token was workshop-scoped and its successor was issued.
type Result struct {
	Attendee     model.Attendee `json:"attendee"`
	CheckedInAt  time.Time      `json:"checked_in_at"`
	RotatedToken *model.Token   `json:"rotated_token,omitempty"`
}

// Coordinator runs check-in attempts.
type Coordinator struct {
	reservations ReservationChecker
	tokens       TokenStore
	attendance   AttendanceStore
	users        Directory
	events       Publisher
	clock        clock.Clock
	log          logrus.FieldLogger
}

// Deps groups the collaborators of a Coordinator. Events may be nil.
type Deps struct {
	Reservations ReservationChecker
	Tokens       TokenStore
	Attendance   AttendanceStore
	Users        Directory
	Events       Publisher
	Clock        clock.Clock
	Log          logrus.FieldLogger
}

// New returns a Coordinator.
func New(d Deps) *Coordinator {
	if d.Reservations == nil || d.Tokens == nil || d.Attendance == nil || d.Users == nil || d.Clock == nil || d.Log == nil {
		panic("checkin: missing dependency")
	}
	return &Coordinator{
		reservations: d.Reservations,
		tokens:       d.Tokens,
		attendance:   d.Attendance,
		users:        d.Users,
		events:       d.Events,
		clock:        d.Clock,
		log:          d.Log.WithField("component", "checkin"),
	}
}

// CheckIn validates token for (workshopID, userID) and records attendance.
func (c *Coordinator) CheckIn(ctx context.Context, token string, workshopID, userID uint64) (Result, error) {
	l := c.log.WithFields(logrus.Fields{"workshop_id": workshopID, "user_id": userID})

	ok, err := c.reservations.HasReservation(ctx, workshopID, userID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup reservation: %w", err)
	}
	if !ok {
		return Result{}, apperr.ErrNoReservation
	}

	scope, err := c.tokens.Consume(ctx, token, model.Scope{WorkshopID: workshopID, UserID: userID})
	if err != nil {
		l.WithField("reason", apperr.KindOf(err)).Debug("token rejected")
		return Result{}, err
	}

	exists, err := c.attendance.AttendanceExists(ctx, workshopID, userID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup attendance: %w", err)
	}
	if exists {
		return Result{}, apperr.ErrAlreadyCheckedIn
	}

	user, err := c.users.UserByID(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup user: %w", err)
	}

	now := c.clock.Now()
	if err := c.attendance.InsertAttendance(ctx, model.Attendance{UserID: userID, WorkshopID: workshopID, CheckedInAt: now}); err != nil {
		return Result{}, err
	}
	l.Info("checked in")

	res := Result{Attendee: user.Attendee(), CheckedInAt: now}
	c.publish(model.EventAttendance, model.AttendancePayload{
		WorkshopID:  workshopID,
		UserID:      userID,
		Email:       user.Email,
		Name:        user.Name,
		CheckedInAt: now,
	})

	if scope.WorkshopScoped() {
		next, err := c.tokens.Issue(ctx, model.Scope{WorkshopID: workshopID})
		if err != nil {
			// Attendance is committed; the station keeps its old token until
			// an admin issues a new one.
			l.WithError(err).Error("token rotation failed")
			return res, nil
		}
		res.RotatedToken = &next
		c.publish(model.EventTokenRotated, model.TokenRotatedPayload{
			WorkshopID: workshopID,
			Token:      next.Value,
			ExpiresAt:  next.ExpiresAt,
		})
	}
	return res, nil
}

// Attendees returns the roster of a workshop in check-in order. Users that
// can no longer be resolved are listed by id only.
func (c *Coordinator) Attendees(ctx context.Context, workshopID uint64) ([]model.RosterEntry, error) {
	records, err := c.attendance.ListAttendance(ctx, workshopID)
	if err != nil {
		return nil, err
	}
	out := make([]model.RosterEntry, 0, len(records))
	for _, r := range records {
		entry := model.RosterEntry{Attendee: model.Attendee{UserID: r.UserID}, CheckedInAt: r.CheckedInAt}
		u, err := c.users.UserByID(ctx, r.UserID)
		switch {
		case err == nil:
			entry.Attendee = u.Attendee()
		case apperr.KindOf(err) != apperr.KindNotFound:
			return nil, fmt.Errorf("lookup user %d: %w", r.UserID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (c *Coordinator) publish(kind model.EventKind, payload any) {
	if c.events != nil {
		c.events.Publish(kind, payload)
	}
}
