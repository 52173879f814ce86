// Package ledger maintains per-workshop seat availability. Reserve and Cancel
// are both expressed through a single atomic primitive, Store.ApplyDelta,
// so the capacity invariant 0 <= available <= total and the pairing between
// reservation rows and the seat counter are enforced in one place.
//
// Mutations of one workshop are serialised inside a Ledger from the store
// call through the event publish, so subscribers see reservation events in
// commit order. Separate Ledger instances sharing a database only get the
// store's ordering.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/clock"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

// Change describes one seat mutation. Delta is -1 to take a seat for UserID
// (creating the reservation) or +1 to give it back (deleting it).
type Change struct {
	WorkshopID uint64
	UserID     uint64
	Delta      int
	At         time.Time
}

// State is the locked view handed to a Precondition: the current workshop
// row and whether the user currently holds a reservation on it.
type State struct {
	Workshop model.Workshop
	Reserved bool
}

// Precondition decides whether a change may proceed. It runs while the store
// holds the workshop exclusively, so whatever it observes is still true when
// the change is applied.
type Precondition func(State) error

// Store is the persistence contract of the ledger.
//
// ApplyDelta must load the workshop and the user (apperr.ErrNotFound when
// either is unknown), evaluate check, and apply the change with no other
// ApplyDelta on the same workshop interleaving between the check and the
// write. Reservation row and counter commit together or not at all. It
// returns the workshop as it stands after the change.
type Store interface {
	ApplyDelta(ctx context.Context, ch Change, check Precondition) (model.Workshop, error)
	HasReservation(ctx context.Context, workshopID, userID uint64) (bool, error)
	Workshop(ctx context.Context, id uint64) (model.Workshop, error)
	CreateWorkshop(ctx context.Context, w model.Workshop) (model.Workshop, error)
}

// Publisher receives seat change notifications.
type Publisher interface {
	Publish(kind model.EventKind, payload any)
}

const orderStripes = 64

// Ledger is the seat ledger.
type Ledger struct {
	store  Store
	clock  clock.Clock
	events Publisher
	log    logrus.FieldLogger

	// order[id%orderStripes] is held across ApplyDelta and publish.
	order [orderStripes]sync.Mutex
}

// New returns a Ledger. events may be nil when no notifications are needed.
func New(store Store, clk clock.Clock, events Publisher, log logrus.FieldLogger) *Ledger {
	if store == nil || clk == nil || log == nil {
		panic("nil dependency passed to ledger.New")
	}
	return &Ledger{store: store, clock: clk, events: events, log: log}
}

// Reserve takes one seat of workshopID for userID and returns the seats left.
//
// Failures: apperr.ErrNotFound (unknown workshop or user), apperr.ErrExpired
// (workshop day already passed), apperr.ErrAlreadyReserved, apperr.ErrFull.
func (l *Ledger) Reserve(ctx context.Context, workshopID, userID uint64) (int, error) {
	mu := l.orderFor(workshopID)
	mu.Lock()
	defer mu.Unlock()

	now := l.clock.Now()
	w, err := l.store.ApplyDelta(ctx, Change{WorkshopID: workshopID, UserID: userID, Delta: -1, At: now},
		func(s State) error {
			switch {
			case s.Workshop.HasPassed(now):
				return apperr.ErrExpired
			case s.Reserved:
				return apperr.ErrAlreadyReserved
			case s.Workshop.AvailableSeats <= 0:
				return apperr.ErrFull
			}
			return nil
		})
	if err != nil {
		return 0, err
	}
	l.log.WithFields(logrus.Fields{"workshop_id": workshopID, "user_id": userID, "available": w.AvailableSeats}).
		Debug("seat reserved")
	l.publish(model.EventReservation, w, userID)
	return w.AvailableSeats, nil
}

// Cancel gives back userID's seat on workshopID and returns the seats left.
// It fails with apperr.ErrNotFound when there is no active reservation.
func (l *Ledger) Cancel(ctx context.Context, workshopID, userID uint64) (int, error) {
	mu := l.orderFor(workshopID)
	mu.Lock()
	defer mu.Unlock()

	w, err := l.store.ApplyDelta(ctx, Change{WorkshopID: workshopID, UserID: userID, Delta: 1, At: l.clock.Now()},
		func(s State) error {
			if !s.Reserved {
				return apperr.ErrNotFound
			}
			return nil
		})
	if err != nil {
		return 0, err
	}
	l.log.WithFields(logrus.Fields{"workshop_id": workshopID, "user_id": userID, "available": w.AvailableSeats}).
		Debug("reservation cancelled")
	l.publish(model.EventReservationCancelled, w, userID)
	return w.AvailableSeats, nil
}

// HasReservation reports whether userID currently holds a seat on workshopID.
func (l *Ledger) HasReservation(ctx context.Context, workshopID, userID uint64) (bool, error) {
	return l.store.HasReservation(ctx, workshopID, userID)
}

// Workshop returns the current state of a workshop.
func (l *Ledger) Workshop(ctx context.Context, id uint64) (model.Workshop, error) {
	return l.store.Workshop(ctx, id)
}

// CreateWorkshop registers a workshop with every seat available.
func (l *Ledger) CreateWorkshop(ctx context.Context, title string, seats int, date time.Time) (model.Workshop, error) {
	if seats <= 0 {
		return model.Workshop{}, fmt.Errorf("create workshop: seats must be positive, got %d", seats)
	}
	return l.store.CreateWorkshop(ctx, model.Workshop{
		Title:          title,
		TotalSeats:     seats,
		AvailableSeats: seats,
		Date:           model.Day(date),
		CreatedAt:      l.clock.Now(),
	})
}

func (l *Ledger) orderFor(workshopID uint64) *sync.Mutex {
	return &l.order[workshopID%orderStripes]
}

func (l *Ledger) publish(kind model.EventKind, w model.Workshop, userID uint64) {
	if l.events == nil {
		return
	}
	l.events.Publish(kind, model.SeatsPayload{
		WorkshopID:     w.ID,
		UserID:         userID,
		AvailableSeats: w.AvailableSeats,
	})
}
