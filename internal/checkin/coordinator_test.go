package checkin_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/broadcast"
	"github.com/iliyamo/workshop-checkin/internal/checkin"
	"github.com/iliyamo/workshop-checkin/internal/clock"
	"github.com/iliyamo/workshop-checkin/internal/ledger"
	"github.com/iliyamo/workshop-checkin/internal/logging"
	"github.com/iliyamo/workshop-checkin/internal/memstore"
	"github.com/iliyamo/workshop-checkin/internal/model"
	"github.com/iliyamo/workshop-checkin/internal/token"
)

var today = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memstore.Store
	ledger   *ledger.Ledger
	tokens   *token.MemoryStore
	events   *broadcast.Broadcaster
	clock    *clock.Fake
	coord    *checkin.Coordinator
	workshop model.Workshop
	users    []uint64
}

func newFixture(t *testing.T, users int, wrap func(checkin.TokenStore) checkin.TokenStore) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logging.Discard()
	clk := clock.NewFake(today)
	store := memstore.New()
	tokens, err := token.NewMemoryStore(clk, token.Options{
		Policy:    token.Policy{MinTTL: 10 * time.Second, MaxTTL: 10 * time.Second},
		Retention: time.Minute,
	})
	require.NoError(t, err)
	events := broadcast.New(32, clk, log)

	f := &fixture{store: store, tokens: tokens, events: events, clock: clk}
	f.ledger = ledger.New(store, clk, events, log)
	f.workshop, err = f.ledger.CreateWorkshop(ctx, "Channels", 10, today)
	require.NoError(t, err)
	for i := 0; i < users; i++ {
		id, err := store.CreateUser(ctx, model.User{
			Email: fmt.Sprintf("attendee%d@example.com", i),
			Name:  fmt.Sprintf("Attendee %d", i),
			Role:  model.RoleAttendee,
		})
		require.NoError(t, err)
		f.users = append(f.users, id)
	}

	var ts checkin.TokenStore = tokens
	if wrap != nil {
		ts = wrap(tokens)
	}
	f.coord = checkin.New(checkin.Deps{
		Reservations: f.ledger,
		Tokens:       ts,
		Attendance:   store,
		Users:        store,
		Events:       events,
		Clock:        clk,
		Log:          log,
	})
	return f
}

func (f *fixture) reserve(t *testing.T, uid uint64) {
	t.Helper()
	_, err := f.ledger.Reserve(context.Background(), f.workshop.ID, uid)
	require.NoError(t, err)
}

func (f *fixture) issue(t *testing.T, uid uint64) model.Token {
	t.Helper()
	tok, err := f.tokens.Issue(context.Background(), model.Scope{WorkshopID: f.workshop.ID, UserID: uid})
	require.NoError(t, err)
	return tok
}

func drain(sub *broadcast.Subscription) []model.Event {
	var out []model.Event
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestCheckInWithUserTokenThenReplay(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()
	uid := f.users[0]
	f.reserve(t, uid)

	tok := f.issue(t, uid)
	ttl := tok.ExpiresAt.Sub(tok.IssuedAt)
	assert.Equal(t, 10*time.Second, ttl)

	res, err := f.coord.CheckIn(ctx, tok.Value, f.workshop.ID, uid)
	require.NoError(t, err)
	assert.Equal(t, uid, res.Attendee.UserID)
	assert.Equal(t, "attendee0@example.com", res.Attendee.Email)
	assert.Equal(t, today, res.CheckedInAt)
	assert.Nil(t, res.RotatedToken)

	_, err = f.coord.CheckIn(ctx, tok.Value, f.workshop.ID, uid)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyUsed) || errors.Is(err, apperr.ErrAlreadyCheckedIn))

	roster, err := f.coord.Attendees(ctx, f.workshop.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "Attendee 0", roster[0].Name)
}

func TestCheckInWithoutReservationKeepsToken(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()
	uid := f.users[0]
	tok := f.issue(t, uid)

	_, err := f.coord.CheckIn(ctx, tok.Value, f.workshop.ID, uid)
	assert.ErrorIs(t, err, apperr.ErrNoReservation)

	f.reserve(t, uid)
	_, err = f.coord.CheckIn(ctx, tok.Value, f.workshop.ID, uid)
	assert.NoError(t, err)
}

func TestCheckInTokenFailuresPropagate(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()
	u, v := f.users[0], f.users[1]
	f.reserve(t, u)
	f.reserve(t, v)

	_, err := f.coord.CheckIn(ctx, "bogus", f.workshop.ID, u)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)

	forV := f.issue(t, v)
	_, err = f.coord.CheckIn(ctx, forV.Value, f.workshop.ID, u)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)

	late := f.issue(t, u)
	f.clock.Advance(11 * time.Second)
	_, err = f.coord.CheckIn(ctx, late.Value, f.workshop.ID, u)
	assert.ErrorIs(t, err, apperr.ErrTokenExpired)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))
}

func TestSecondCheckInBurnsToken(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()
	uid := f.users[0]
	f.reserve(t, uid)

	_, err := f.coord.CheckIn(ctx, f.issue(t, uid).Value, f.workshop.ID, uid)
	require.NoError(t, err)

	second := f.issue(t, uid)
	_, err = f.coord.CheckIn(ctx, second.Value, f.workshop.ID, uid)
	assert.ErrorIs(t, err, apperr.ErrAlreadyCheckedIn)

	_, err = f.tokens.Consume(ctx, second.Value, model.Scope{WorkshopID: f.workshop.ID, UserID: uid})
	assert.ErrorIs(t, err, apperr.ErrAlreadyUsed)
}

func TestWorkshopTokenRotatesOnCheckIn(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()
	u, v := f.users[0], f.users[1]
	f.reserve(t, u)
	f.reserve(t, v)
	sub := f.events.Subscribe()
	defer f.events.Unsubscribe(sub)

	station, err := f.tokens.Issue(ctx, model.Scope{WorkshopID: f.workshop.ID})
	require.NoError(t, err)

	res, err := f.coord.CheckIn(ctx, station.Value, f.workshop.ID, u)
	require.NoError(t, err)
	require.NotNil(t, res.RotatedToken)
	assert.NotEqual(t, station.Value, res.RotatedToken.Value)

	_, err = f.coord.CheckIn(ctx, station.Value, f.workshop.ID, v)
	assert.ErrorIs(t, err, apperr.ErrAlreadyUsed)

	res2, err := f.coord.CheckIn(ctx, res.RotatedToken.Value, f.workshop.ID, v)
	require.NoError(t, err)
	require.NotNil(t, res2.RotatedToken)

	evs := drain(sub)
	kinds := make([]model.EventKind, 0, len(evs))
	for _, ev := range evs {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []model.EventKind{
		model.EventAttendance, model.EventTokenRotated,
		model.EventAttendance, model.EventTokenRotated,
	}, kinds)
	rotated := evs[1].Payload.(model.TokenRotatedPayload)
	assert.Equal(t, res.RotatedToken.Value, rotated.Token)
	assert.Equal(t, f.workshop.ID, rotated.WorkshopID)
}

type failingIssue struct {
	checkin.TokenStore
}

func (failingIssue) Issue(context.Context, model.Scope) (model.Token, error) {
	return model.Token{}, errors.New("redis unavailable")
}

func TestRotationFailureKeepsCheckIn(t *testing.T) {
	f := newFixture(t, 1, func(ts checkin.TokenStore) checkin.TokenStore { return failingIssue{ts} })
	ctx := context.Background()
	uid := f.users[0]
	f.reserve(t, uid)

	station, err := f.tokens.Issue(ctx, model.Scope{WorkshopID: f.workshop.ID})
	require.NoError(t, err)

	res, err := f.coord.CheckIn(ctx, station.Value, f.workshop.ID, uid)
	require.NoError(t, err)
	assert.Nil(t, res.RotatedToken)

	exists, err := f.store.AttendanceExists(ctx, f.workshop.ID, uid)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAttendanceEventReachesOnlyCurrentSubscribers(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()
	uid := f.users[0]
	f.reserve(t, uid)

	early := f.events.Subscribe()
	defer f.events.Unsubscribe(early)

	_, err := f.coord.CheckIn(ctx, f.issue(t, uid).Value, f.workshop.ID, uid)
	require.NoError(t, err)

	late := f.events.Subscribe()
	defer f.events.Unsubscribe(late)

	evs := drain(early)
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventAttendance, evs[0].Kind)
	p := evs[0].Payload.(model.AttendancePayload)
	assert.Equal(t, uid, p.UserID)
	assert.Equal(t, f.workshop.ID, p.WorkshopID)

	assert.Empty(t, drain(late))
}

func TestConcurrentCheckInsRecordOnce(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()
	uid := f.users[0]
	f.reserve(t, uid)

	const n = 20
	toks := make([]string, n)
	for i := range toks {
		toks[i] = f.issue(t, uid).Value
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ok  int
		dup int
	)
	for _, v := range toks {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			_, err := f.coord.CheckIn(ctx, v, f.workshop.ID, uid)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrAlreadyCheckedIn):
				dup++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(v)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)

	roster, err := f.coord.Attendees(ctx, f.workshop.ID)
	require.NoError(t, err)
	assert.Len(t, roster, 1)
}
