package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	assert.True(t, errors.Is(ErrTokenExpired, ErrExpired))
	assert.True(t, errors.Is(fmt.Errorf("consume: %w", ErrAlreadyUsed), ErrAlreadyUsed))
	assert.False(t, errors.Is(ErrFull, ErrAlreadyReserved))
	assert.False(t, errors.Is(errors.New("full"), ErrFull))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNoReservation, KindOf(fmt.Errorf("checkin: %w", ErrNoReservation)))
	assert.Equal(t, KindExpired, KindOf(ErrTokenExpired))
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindsAreDistinct(t *testing.T) {
	all := []*Error{
		ErrNotFound, ErrExpired, ErrFull, ErrAlreadyReserved, ErrAlreadyCheckedIn,
		ErrInvalidToken, ErrAlreadyUsed, ErrNoReservation, ErrConflict,
	}
	seen := map[Kind]bool{}
	for _, e := range all {
		assert.False(t, seen[e.Kind], "duplicate kind %s", e.Kind)
		seen[e.Kind] = true
	}
}
