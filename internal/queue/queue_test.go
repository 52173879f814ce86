package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/workshop-checkin/internal/logging"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

type fakeChannel struct {
	exchange string
	keys     []string
	msgs     []amqp.Publishing
	err      error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.exchange = exchange
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, msg)
	return nil
}

var checkedIn = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func attendanceEvent(seq uint64) model.Event {
	return model.Event{
		Seq:  seq,
		Kind: model.EventAttendance,
		At:   checkedIn,
		Payload: model.AttendancePayload{
			WorkshopID: 4, UserID: 9, Email: "ada@example.com", Name: "Ada", CheckedInAt: checkedIn,
		},
	}
}

func TestRelayForwardPublishesJSON(t *testing.T) {
	r := NewRelay("", nil, logging.Discard())
	ch := &fakeChannel{}

	require.NoError(t, r.forward(context.Background(), ch, attendanceEvent(12)))
	require.Len(t, ch.msgs, 1)
	assert.Equal(t, ExchangeName, ch.exchange)
	assert.Equal(t, "attendance", ch.keys[0])

	pub := ch.msgs[0]
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "12", pub.MessageId)

	var msg EventMessage
	require.NoError(t, json.Unmarshal(pub.Body, &msg))
	assert.Equal(t, uint64(12), msg.Seq)
	assert.Equal(t, model.EventAttendance, msg.Kind)
	var p model.AttendancePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, uint64(9), p.UserID)
}

func TestRelaySkipsRotatedTokens(t *testing.T) {
	r := NewRelay("", nil, logging.Discard())
	ch := &fakeChannel{}
	ev := model.Event{Seq: 1, Kind: model.EventTokenRotated, Payload: model.TokenRotatedPayload{WorkshopID: 4, Token: "secret"}}

	require.NoError(t, r.forward(context.Background(), ch, ev))
	assert.Empty(t, ch.msgs)
	assert.False(t, Relayed(model.EventTokenRotated))
	assert.True(t, Relayed(model.EventReservation))
}

func TestRelayReturnsBrokerErrors(t *testing.T) {
	r := NewRelay("", nil, logging.Discard())
	boom := errors.New("channel closed")

	err := r.forward(context.Background(), &fakeChannel{err: boom}, attendanceEvent(3))
	assert.ErrorIs(t, err, boom)
}

func TestAttendanceLoggerAppendsLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	a := NewAttendanceLogger("", dir, logging.Discard())

	for _, seq := range []uint64{1, 2} {
		msg, err := NewEventMessage(attendanceEvent(seq))
		require.NoError(t, err)
		body, err := json.Marshal(msg)
		require.NoError(t, err)
		require.NoError(t, a.Handle(body))
	}

	other, err := NewEventMessage(model.Event{Seq: 3, Kind: model.EventReservation, Payload: model.SeatsPayload{WorkshopID: 4}})
	require.NoError(t, err)
	body, err := json.Marshal(other)
	require.NoError(t, err)
	require.NoError(t, a.Handle(body))

	data, err := os.ReadFile(filepath.Join(dir, "attendance.log"))
	require.NoError(t, err)
	want := FormatAttendance(1, attendanceEvent(1).Payload.(model.AttendancePayload)) +
		FormatAttendance(2, attendanceEvent(2).Payload.(model.AttendancePayload))
	assert.Equal(t, want, string(data))
}

func TestAttendanceLoggerRejectsGarbage(t *testing.T) {
	a := NewAttendanceLogger("", t.TempDir(), logging.Discard())
	assert.Error(t, a.Handle([]byte("{")))
	assert.Error(t, a.Handle([]byte(`{"kind":"attendance","payload":"nope"}`)))
}

func TestFormatAttendance(t *testing.T) {
	p := attendanceEvent(0).Payload.(model.AttendancePayload)
	assert.Equal(t,
		"[2026-03-10T09:30:00Z] Checked in | workshop_id=4 | user_id=9 | name=\"Ada\" | email=\"ada@example.com\" | seq=7\n",
		FormatAttendance(7, p))
}

func TestSleepCtxStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepCtx(ctx, time.Hour))
	assert.True(t, sleepCtx(context.Background(), time.Millisecond))
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, 32*time.Second, nextBackoff(32*time.Second))
}
