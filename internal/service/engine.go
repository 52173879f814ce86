// Package service wires the seat ledger, the token store, the check-in
// coordinator and the event broadcaster into the Engine that transports
// such as the HTTP handlers call.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/broadcast"
	"github.com/iliyamo/workshop-checkin/internal/checkin"
	"github.com/iliyamo/workshop-checkin/internal/clock"
	"github.com/iliyamo/workshop-checkin/internal/ledger"
	"github.com/iliyamo/workshop-checkin/internal/model"
	"github.com/iliyamo/workshop-checkin/internal/token"
)

// Store is the persistence an Engine needs. memstore.Store and the MySQL
// repository.Store both satisfy it.
type Store interface {
	ledger.Store
	checkin.AttendanceStore
	checkin.Directory
}

// Options configures an Engine.
type Options struct {
	Store  Store
	Tokens token.Store
	Clock  clock.Clock
	Log    logrus.FieldLogger
	// EventBuffer is the per-subscriber buffer size.
	EventBuffer int
	// PurgeInterval is how often expired tokens are reclaimed by Run.
	PurgeInterval time.Duration
}

// Engine is the check-in core.
type Engine struct {
	store  Store
	ledger *ledger.Ledger
	tokens token.Store
	coord  *checkin.Coordinator
	events *broadcast.Broadcaster
	purger *token.Purger
	clock  clock.Clock
	log    logrus.FieldLogger
}

// New builds an Engine from opts.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Tokens == nil {
		return nil, fmt.Errorf("service: store and token store are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	events := broadcast.New(opts.EventBuffer, opts.Clock, opts.Log)
	led := ledger.New(opts.Store, opts.Clock, events, opts.Log)
	return &Engine{
		store:  opts.Store,
		ledger: led,
		tokens: opts.Tokens,
		coord: checkin.New(checkin.Deps{
			Reservations: led,
			Tokens:       opts.Tokens,
			Attendance:   opts.Store,
			Users:        opts.Store,
			Events:       events,
			Clock:        opts.Clock,
			Log:          opts.Log,
		}),
		events: events,
		purger: token.NewPurger(opts.Tokens, opts.PurgeInterval, opts.Log),
		clock:  opts.Clock,
		log:    opts.Log.WithField("component", "engine"),
	}, nil
}

// Run drives background work (token purging) until ctx ends, then closes
// every event subscription.
func (e *Engine) Run(ctx context.Context) {
	e.purger.Run(ctx)
	e.events.Close()
}

// Reserve books a seat and returns the seats left.
func (e *Engine) Reserve(ctx context.Context, workshopID, userID uint64) (int, error) {
	return e.ledger.Reserve(ctx, workshopID, userID)
}

// CancelReservation releases a seat and returns the seats left.
func (e *Engine) CancelReservation(ctx context.Context, workshopID, userID uint64) (int, error) {
	return e.ledger.Cancel(ctx, workshopID, userID)
}

// IssueToken issues a token for scope. The workshop must exist and not be
// over; a user-scoped token additionally requires a reservation.
func (e *Engine) IssueToken(ctx context.Context, scope model.Scope) (model.Token, error) {
	w, err := e.ledger.Workshop(ctx, scope.WorkshopID)
	if err != nil {
		return model.Token{}, err
	}
	if w.HasPassed(e.clock.Now()) {
		return model.Token{}, apperr.ErrExpired
	}
	if !scope.WorkshopScoped() {
		ok, err := e.ledger.HasReservation(ctx, scope.WorkshopID, scope.UserID)
		if err != nil {
			return model.Token{}, err
		}
		if !ok {
			return model.Token{}, apperr.ErrNoReservation
		}
	}
	tok, err := e.tokens.Issue(ctx, scope)
	if err != nil {
		return model.Token{}, err
	}
	if scope.WorkshopScoped() {
		e.events.Publish(model.EventTokenRotated, model.TokenRotatedPayload{
			WorkshopID: scope.WorkshopID,
			Token:      tok.Value,
			ExpiresAt:  tok.ExpiresAt,
		})
	}
	return tok, nil
}

// CheckIn records attendance for the holder of token.
func (e *Engine) CheckIn(ctx context.Context, tok string, workshopID, userID uint64) (checkin.Result, error) {
	return e.coord.CheckIn(ctx, tok, workshopID, userID)
}

// SubscribeEvents registers a new event subscriber.
func (e *Engine) SubscribeEvents() *broadcast.Subscription {
	return e.events.Subscribe()
}

// UnsubscribeEvents removes a subscriber and closes its channel.
func (e *Engine) UnsubscribeEvents(s *broadcast.Subscription) {
	e.events.Unsubscribe(s)
}

// Events exposes the broadcaster for transports such as websockets.
func (e *Engine) Events() *broadcast.Broadcaster { return e.events }

// Workshop returns a workshop by id.
func (e *Engine) Workshop(ctx context.Context, id uint64) (model.Workshop, error) {
	return e.ledger.Workshop(ctx, id)
}

// CreateWorkshop adds a workshop with all seats available.
func (e *Engine) CreateWorkshop(ctx context.Context, title string, seats int, date time.Time) (model.Workshop, error) {
	return e.ledger.CreateWorkshop(ctx, title, seats, date)
}

// Attendees lists the check-ins of a workshop.
func (e *Engine) Attendees(ctx context.Context, workshopID uint64) ([]model.RosterEntry, error) {
	if _, err := e.ledger.Workshop(ctx, workshopID); err != nil {
		return nil, err
	}
	return e.coord.Attendees(ctx, workshopID)
}
