// Package memstore is an in-process persistence backend for workshops,
// reservations, attendance and users. It satisfies the same contracts as
// the MySQL repositories and backs STORE_BACKEND=memory as well as the
// package tests.
//
// Each workshop row carries its own mutex, so seat and attendance writes on
// one workshop serialize while different workshops proceed in parallel. The
// store-wide RWMutex only guards the row index and the user tables and is
// never held across a row operation.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/ledger"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

type workshopRow struct {
	mu           sync.Mutex
	w            model.Workshop
	reservations map[uint64]model.Reservation
	attendance   map[uint64]model.Attendance
}

// Store keeps all state in maps.
type Store struct {
	mu           sync.RWMutex
	workshops    map[uint64]*workshopRow
	users        map[uint64]model.User
	emails       map[string]uint64
	nextWorkshop uint64
	nextUser     uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		workshops: make(map[uint64]*workshopRow),
		users:     make(map[uint64]model.User),
		emails:    make(map[string]uint64),
	}
}

func (s *Store) row(id uint64) (*workshopRow, error) {
	s.mu.RLock()
	r, ok := s.workshops[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return r, nil
}

func (s *Store) userExists(id uint64) bool {
	s.mu.RLock()
	_, ok := s.users[id]
	s.mu.RUnlock()
	return ok
}

// ApplyDelta implements ledger.Store.
func (s *Store) ApplyDelta(ctx context.Context, ch ledger.Change, check ledger.Precondition) (model.Workshop, error) {
	if err := ctx.Err(); err != nil {
		return model.Workshop{}, err
	}
	if ch.Delta != -1 && ch.Delta != 1 {
		return model.Workshop{}, fmt.Errorf("apply delta: unsupported delta %d", ch.Delta)
	}
	r, err := s.row(ch.WorkshopID)
	if err != nil {
		return model.Workshop{}, err
	}
	if !s.userExists(ch.UserID) {
		return model.Workshop{}, apperr.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, reserved := r.reservations[ch.UserID]
	if err := check(ledger.State{Workshop: r.w, Reserved: reserved}); err != nil {
		return model.Workshop{}, err
	}
	if ch.Delta < 0 {
		if reserved || r.w.AvailableSeats+ch.Delta < 0 {
			return model.Workshop{}, apperr.ErrConflict
		}
		r.reservations[ch.UserID] = model.Reservation{UserID: ch.UserID, WorkshopID: ch.WorkshopID, CreatedAt: ch.At}
		r.w.AvailableSeats += ch.Delta
		return r.w, nil
	}
	if !reserved {
		return model.Workshop{}, apperr.ErrConflict
	}
	delete(r.reservations, ch.UserID)
	r.w.AvailableSeats = min(r.w.TotalSeats, r.w.AvailableSeats+ch.Delta)
	return r.w, nil
}

// HasReservation implements ledger.Store.
func (s *Store) HasReservation(ctx context.Context, workshopID, userID uint64) (bool, error) {
	r, err := s.row(workshopID)
	if err != nil {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.reservations[userID]
	return ok, nil
}

// Workshop implements ledger.Store.
func (s *Store) Workshop(ctx context.Context, id uint64) (model.Workshop, error) {
	r, err := s.row(id)
	if err != nil {
		return model.Workshop{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w, nil
}

// CreateWorkshop implements ledger.Store.
func (s *Store) CreateWorkshop(ctx context.Context, w model.Workshop) (model.Workshop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWorkshop++
	w.ID = s.nextWorkshop
	s.workshops[w.ID] = &workshopRow{
		w:            w,
		reservations: make(map[uint64]model.Reservation),
		attendance:   make(map[uint64]model.Attendance),
	}
	return w, nil
}

// ReservationCount returns the number of active reservations on a workshop.
func (s *Store) ReservationCount(workshopID uint64) int {
	r, err := s.row(workshopID)
	if err != nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reservations)
}

// InsertAttendance records a check-in. The duplicate test and the insert
// happen under the workshop row lock, so concurrent inserts for the same
// pair yield exactly one success.
func (s *Store) InsertAttendance(ctx context.Context, a model.Attendance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := s.row(a.WorkshopID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attendance[a.UserID]; ok {
		return apperr.ErrAlreadyCheckedIn
	}
	r.attendance[a.UserID] = a
	return nil
}

// AttendanceExists reports whether userID already checked in to workshopID.
func (s *Store) AttendanceExists(ctx context.Context, workshopID, userID uint64) (bool, error) {
	r, err := s.row(workshopID)
	if err != nil {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.attendance[userID]
	return ok, nil
}

// ListAttendance returns the check-ins of a workshop ordered by time.
func (s *Store) ListAttendance(ctx context.Context, workshopID uint64) ([]model.Attendance, error) {
	r, err := s.row(workshopID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := make([]model.Attendance, 0, len(r.attendance))
	for _, a := range r.attendance {
		out = append(out, a)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CheckedInAt.Equal(out[j].CheckedInAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CheckedInAt.Before(out[j].CheckedInAt)
	})
	return out, nil
}

// CreateUser stores u and returns its new ID. Emails are unique and
// compared case-insensitively.
func (s *Store) CreateUser(ctx context.Context, u model.User) (uint64, error) {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[email]; ok {
		return 0, apperr.ErrEmailExists
	}
	s.nextUser++
	u.ID = s.nextUser
	u.Email = email
	s.users[u.ID] = u
	s.emails[email] = u.ID
	return u.ID, nil
}

// UserByID returns a user or apperr.ErrNotFound.
func (s *Store) UserByID(ctx context.Context, id uint64) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, apperr.ErrNotFound
	}
	return u, nil
}

// UserByEmail returns a user or apperr.ErrNotFound.
func (s *Store) UserByEmail(ctx context.Context, email string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return model.User{}, apperr.ErrNotFound
	}
	return s.users[id], nil
}
