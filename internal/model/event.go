package model

import "time"

// EventKind names a notification published by the broadcaster.
type EventKind string

const (
	EventReservation          EventKind = "reservation"
	EventReservationCancelled EventKind = "reservation_cancelled"
	EventAttendance           EventKind = "attendance"
	EventTokenRotated         EventKind = "token_rotated"
)

// Event is one notification as delivered to subscribers. Seq increases by
// one for every publish on a broadcaster.
type Event struct {
	Seq     uint64    `json:"seq"`
	Kind    EventKind `json:"kind"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// SeatsPayload accompanies reservation and reservation_cancelled events.
type SeatsPayload struct {
	WorkshopID     uint64 `json:"workshop_id"`
	UserID         uint64 `json:"user_id"`
	AvailableSeats int    `json:"available_seats"`
}

// AttendancePayload accompanies attendance events.
type AttendancePayload struct {
	WorkshopID  uint64    `json:"workshop_id"`
	UserID      uint64    `json:"user_id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

// TokenRotatedPayload accompanies token_rotated events.
type TokenRotatedPayload struct {
	WorkshopID uint64    `json:"workshop_id"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}
