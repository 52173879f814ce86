package model

import "time"

// Workshop is a scheduled session with a fixed number of seats.
//
// Fields:
//  ID             – primary key identifier.
//  Title          – display name.
//  TotalSeats     – capacity; never changes through the seat ledger.
//  AvailableSeats – seats still open; only the seat ledger mutates it and it
//                   always satisfies 0 <= AvailableSeats <= TotalSeats.
//  Date           – day the workshop takes place (UTC, time of day ignored).
//  CreatedAt      – creation timestamp.
type Workshop struct {
	ID             uint64    `json:"id"`              // workshops.id
	Title          string    `json:"title"`           // workshops.title
	TotalSeats     int       `json:"total_seats"`     // workshops.total_seats
	AvailableSeats int       `json:"available_seats"` // workshops.available_seats
	Date           time.Time `json:"date"`            // workshops.workshop_date
	CreatedAt      time.Time `json:"created_at"`      // workshops.created_at
}

// HasPassed reports whether the workshop's day is strictly before the day of now.
func (w Workshop) HasPassed(now time.Time) bool {
	return Day(w.Date).Before(Day(now))
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
