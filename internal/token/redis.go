package token

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/clock"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

// issueScript stores a token hash and, for workshop-scoped tokens, swaps the
// workshop's live pointer, deleting the previous token if it is still unused
// and unexpired. An expired predecessor stays so it keeps reporting Expired.
//
// KEYS[1] token key, KEYS[2] live key
// ARGV: workshop_id, user_id, issued_ms, expires_ms, reclaim_at_ms, workshop_scoped
// (issued_ms doubles as "now" for the predecessor check)
var issueScript = redis.NewScript(`
	local scoped = ARGV[6] == '1'
	if scoped then
		local prev = redis.call('GET', KEYS[2])
		if prev then
			local p = redis.call('HMGET', prev, 'used', 'exp')
			if p[1] == '0' and tonumber(ARGV[3]) <= tonumber(p[2]) then
				redis.call('DEL', prev)
			end
		end
	end
	redis.call('HSET', KEYS[1], 'wid', ARGV[1], 'uid', ARGV[2], 'iat', ARGV[3], 'exp', ARGV[4], 'used', '0')
	redis.call('PEXPIREAT', KEYS[1], ARGV[5])
	if scoped then
		redis.call('SET', KEYS[2], KEYS[1])
		redis.call('PEXPIREAT', KEYS[2], ARGV[5])
	end
	return 1
`)

// consumeScript checks scope, use and expiry and marks the token used in one
// atomic step. Result: {code, user_id}; code 0 invalid, 1 used, 2 expired, 3 ok.
//
// KEYS[1] token key
// ARGV: want_workshop_id, want_user_id, now_ms
var consumeScript = redis.NewScript(`
	local f = redis.call('HMGET', KEYS[1], 'wid', 'uid', 'exp', 'used')
	if not f[1] then return {0, 0} end
	if f[1] ~= ARGV[1] then return {0, 0} end
	if f[2] ~= '0' and f[2] ~= ARGV[2] then return {0, 0} end
	if f[4] == '1' then return {1, 0} end
	if tonumber(ARGV[3]) > tonumber(f[3]) then return {2, 0} end
	redis.call('HSET', KEYS[1], 'used', '1')
	return {3, tonumber(f[2])}
`)

const (
	consumeInvalid = 0
	consumeUsed    = 1
	consumeExpired = 2
	consumeOK      = 3
)

// RedisStore keeps tokens in Redis. Keys hold a blake2b digest of the token
// so raw tokens never rest in Redis. Each key carries PEXPIREAT at expiry
// plus retention, so Redis itself reclaims memory and Purge has nothing to do.
type RedisStore struct {
	rdb       *redis.Client
	gen       generator
	clock     clock.Clock
	retention time.Duration
	prefix    string
}

// NewRedisStore returns a RedisStore namespacing its keys under prefix.
func NewRedisStore(rdb *redis.Client, clk clock.Clock, prefix string, opts Options) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis token store: nil client")
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "tok"
	}
	return &RedisStore{
		rdb:       rdb,
		gen:       generator{rand: opts.Rand, policy: opts.Policy},
		clock:     clk,
		retention: opts.Retention,
		prefix:    prefix,
	}, nil
}

func (s *RedisStore) tokenKey(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return s.prefix + ":t:" + hex.EncodeToString(sum[:])
}

func (s *RedisStore) liveKey(workshopID uint64) string {
	return s.prefix + ":live:" + strconv.FormatUint(workshopID, 10)
}

// Issue implements Store.
func (s *RedisStore) Issue(ctx context.Context, scope model.Scope) (model.Token, error) {
	tok, err := s.gen.next(scope, s.clock.Now())
	if err != nil {
		return model.Token{}, err
	}
	scoped := "0"
	if scope.WorkshopScoped() {
		scoped = "1"
	}
	reclaimAt := tok.ExpiresAt.Add(s.retention)
	err = issueScript.Run(ctx, s.rdb,
		[]string{s.tokenKey(tok.Value), s.liveKey(scope.WorkshopID)},
		scope.WorkshopID,
		scope.UserID,
		tok.IssuedAt.UnixMilli(),
		tok.ExpiresAt.UnixMilli(),
		reclaimAt.UnixMilli(),
		scoped,
	).Err()
	if err != nil {
		return model.Token{}, fmt.Errorf("issue token: %w", err)
	}
	return tok, nil
}

// Consume implements Store.
func (s *RedisStore) Consume(ctx context.Context, token string, want model.Scope) (model.Scope, error) {
	res, err := consumeScript.Run(ctx, s.rdb,
		[]string{s.tokenKey(token)},
		want.WorkshopID,
		want.UserID,
		s.clock.Now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return model.Scope{}, fmt.Errorf("consume token: %w", err)
	}
	if len(res) != 2 {
		return model.Scope{}, fmt.Errorf("consume token: unexpected script result %v", res)
	}
	switch res[0] {
	case consumeOK:
		return model.Scope{WorkshopID: want.WorkshopID, UserID: uint64(res[1])}, nil
	case consumeUsed:
		return model.Scope{}, apperr.ErrAlreadyUsed
	case consumeExpired:
		return model.Scope{}, apperr.ErrTokenExpired
	default:
		return model.Scope{}, apperr.ErrInvalidToken
	}
}

// Purge implements Store. Key expiry in Redis does the reclamation.
func (s *RedisStore) Purge(ctx context.Context) (int, error) {
	return 0, ctx.Err()
}
