// Package queue relays domain events to RabbitMQ and consumes them again
// to keep an append-only attendance log.
package queue

import (
	"encoding/json"
	"time"

	"github.com/iliyamo/workshop-checkin/internal/model"
)

const (
	// ExchangeName is the fanout exchange every relayed event goes to.
	ExchangeName = "workshop.events"
	// AttendanceQueue is the durable queue the attendance logger reads.
	AttendanceQueue = "workshop.attendance"
)

// EventMessage is the wire form of a relayed event. Payload keeps the
// kind-specific body so consumers decode only what they care about.
type EventMessage struct {
	Seq     uint64          `json:"seq"`
	Kind    model.EventKind `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// NewEventMessage encodes ev for the broker.
func NewEventMessage(ev model.Event) (EventMessage, error) {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return EventMessage{}, err
	}
	return EventMessage{Seq: ev.Seq, Kind: ev.Kind, At: ev.At.UTC(), Payload: body}, nil
}

// Relayed reports whether events of kind k leave the process. Rotated
// tokens are live credentials and stay on the admin websocket.
func Relayed(k model.EventKind) bool {
	return k != model.EventTokenRotated
}
