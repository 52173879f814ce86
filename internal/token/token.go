// Package token issues and consumes short-lived single-use verification
// tokens. A token is scoped to a workshop or to a user of a workshop and
// moves from valid to either consumed or expired exactly once.
//
// Two backends share the Store contract: MemoryStore keeps tokens in a
// sharded in-process map, RedisStore keeps them in Redis and relies on Lua
// scripts for atomicity. Both keep used and expired entries as tombstones
// for a retention window, so a replayed token reports AlreadyUsed and a late
// one reports Expired instead of looking unknown.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/iliyamo/workshop-checkin/internal/model"
)

// Store is the token lifecycle contract.
//
// Issue creates a token for scope. For a workshop-scoped scope every other
// unused token of the same workshop stops being valid.
//
// Consume validates token against want and marks it used. Failures:
// apperr.ErrInvalidToken (unknown or scope mismatch), apperr.ErrAlreadyUsed,
// apperr.ErrTokenExpired. Two concurrent calls on one token never both succeed.
//
// Purge drops entries whose retention has elapsed and reports how many.
type Store interface {
	Issue(ctx context.Context, scope model.Scope) (model.Token, error)
	Consume(ctx context.Context, token string, want model.Scope) (model.Scope, error)
	Purge(ctx context.Context) (int, error)
}

// tokenBytes gives 256 bits of entropy per token.
const tokenBytes = 32

var errNoWorkshop = errors.New("token scope requires a workshop id")

// Policy bounds the randomized lifetime of a token.
type Policy struct {
	MinTTL time.Duration
	MaxTTL time.Duration
}

// DefaultPolicy returns the 10s–30s lifetime window.
func DefaultPolicy() Policy {
	return Policy{MinTTL: 10 * time.Second, MaxTTL: 30 * time.Second}
}

// Validate checks that the window is positive and ordered.
func (p Policy) Validate() error {
	if p.MinTTL <= 0 || p.MaxTTL < p.MinTTL {
		return fmt.Errorf("invalid token ttl window [%s, %s]", p.MinTTL, p.MaxTTL)
	}
	return nil
}

// Options configures a Store backend.
type Options struct {
	Policy Policy
	// Retention is how long used or expired entries are kept after expiry.
	Retention time.Duration
	// Rand is the secure random source. Defaults to crypto/rand.Reader.
	Rand io.Reader
}

func (o Options) withDefaults() (Options, error) {
	if o.Policy == (Policy{}) {
		o.Policy = DefaultPolicy()
	}
	if err := o.Policy.Validate(); err != nil {
		return o, err
	}
	if o.Retention < 0 {
		o.Retention = 0
	}
	if o.Rand == nil {
		o.Rand = rand.Reader
	}
	return o, nil
}

type generator struct {
	rand   io.Reader
	policy Policy
}

// value returns a hex encoded random token.
func (g generator) value() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(g.rand, b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// lifetime picks a duration uniformly in [MinTTL, MaxTTL] at millisecond
// granularity.
func (g generator) lifetime() (time.Duration, error) {
	span := (g.policy.MaxTTL - g.policy.MinTTL) / time.Millisecond
	if span <= 0 {
		return g.policy.MinTTL, nil
	}
	n, err := rand.Int(g.rand, big.NewInt(int64(span)+1))
	if err != nil {
		return 0, fmt.Errorf("random lifetime: %w", err)
	}
	return g.policy.MinTTL + time.Duration(n.Int64())*time.Millisecond, nil
}

func (g generator) next(scope model.Scope, now time.Time) (model.Token, error) {
	if scope.WorkshopID == 0 {
		return model.Token{}, errNoWorkshop
	}
	v, err := g.value()
	if err != nil {
		return model.Token{}, err
	}
	ttl, err := g.lifetime()
	if err != nil {
		return model.Token{}, err
	}
	return model.Token{Value: v, Scope: scope, IssuedAt: now, ExpiresAt: now.Add(ttl)}, nil
}
