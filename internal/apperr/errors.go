// Package apperr defines the error kinds shared by the seat ledger, the
// token store and the check-in coordinator. Each sentinel carries a Kind so
// higher layers such as handlers can tell failures apart and render a
// specific message without string matching. Two errors are considered
// equal by errors.Is when their kinds match, which lets a more specific
// sentinel (ErrTokenExpired) still satisfy a check against the general one
// (ErrExpired).
package apperr

import "errors"

// Kind classifies a domain failure.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindExpired          Kind = "expired"
	KindFull             Kind = "full"
	KindAlreadyReserved  Kind = "already_reserved"
	KindAlreadyCheckedIn Kind = "already_checked_in"
	KindInvalidToken     Kind = "invalid_token"
	KindAlreadyUsed      Kind = "already_used"
	KindNoReservation    Kind = "no_reservation"
	KindConflict         Kind = "conflict"
)

// Error is a domain error with a stable kind and a human readable message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrNotFound is returned for unknown workshops, users or reservations.
	ErrNotFound = &Error{Kind: KindNotFound, Msg: "not found"}
	// ErrExpired is returned when the workshop date has already passed.
	ErrExpired = &Error{Kind: KindExpired, Msg: "workshop expired"}
	// ErrTokenExpired is returned when a token is presented after its expiry.
	ErrTokenExpired = &Error{Kind: KindExpired, Msg: "token expired"}
	// ErrFull is returned when no seats are left.
	ErrFull = &Error{Kind: KindFull, Msg: "workshop is full"}
	// ErrAlreadyReserved is returned for a second reservation of the same pair.
	ErrAlreadyReserved = &Error{Kind: KindAlreadyReserved, Msg: "already reserved"}
	// ErrAlreadyCheckedIn is returned for a second check-in of the same pair.
	ErrAlreadyCheckedIn = &Error{Kind: KindAlreadyCheckedIn, Msg: "already checked in"}
	// ErrInvalidToken is returned for unknown tokens or a scope mismatch.
	ErrInvalidToken = &Error{Kind: KindInvalidToken, Msg: "invalid token"}
	// ErrAlreadyUsed is returned when a token was already consumed.
	ErrAlreadyUsed = &Error{Kind: KindAlreadyUsed, Msg: "token already used"}
	// ErrNoReservation is returned by check-in when the user holds no reservation.
	ErrNoReservation = &Error{Kind: KindNoReservation, Msg: "no reservation for this workshop"}
	// ErrConflict signals a broken locking invariant. It should be unreachable.
	ErrConflict = &Error{Kind: KindConflict, Msg: "concurrent modification conflict"}
)

// ErrEmailExists is returned when registering an email that is taken. It is
// an account-management failure and carries no Kind.
var ErrEmailExists = errors.New("email already exists")

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
