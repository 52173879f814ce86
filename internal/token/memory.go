package token

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/clock"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

const shardCount = 32

type entry struct {
	scope     model.Scope
	issuedAt  time.Time
	expiresAt time.Time
	used      bool
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type liveRef struct {
	token     string
	expiresAt time.Time
}

// liveShard indexes the current token of each workshop.
type liveShard struct {
	mu   sync.Mutex
	refs map[uint64]liveRef
}

// MemoryStore keeps tokens in process memory. Tokens are spread over
// shards by hash, each with its own mutex, so consumption of one token
// only serializes with operations on the same shard. Lock order is live
// index before token shard.
type MemoryStore struct {
	gen       generator
	clock     clock.Clock
	retention time.Duration
	shards    [shardCount]*shard
	live      [shardCount]*liveShard
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(clk clock.Clock, opts Options) (*MemoryStore, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	s := &MemoryStore{
		gen:       generator{rand: opts.Rand, policy: opts.Policy},
		clock:     clk,
		retention: opts.Retention,
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
		s.live[i] = &liveShard{refs: make(map[uint64]liveRef)}
	}
	return s, nil
}

func (s *MemoryStore) shardFor(token string) *shard {
	return s.shards[xxhash.Sum64String(token)%shardCount]
}

func (s *MemoryStore) liveFor(workshopID uint64) *liveShard {
	return s.live[workshopID%shardCount]
}

// Issue implements Store.
func (s *MemoryStore) Issue(ctx context.Context, scope model.Scope) (model.Token, error) {
	if err := ctx.Err(); err != nil {
		return model.Token{}, err
	}
	tok, err := s.gen.next(scope, s.clock.Now())
	if err != nil {
		return model.Token{}, err
	}
	e := &entry{scope: scope, issuedAt: tok.IssuedAt, expiresAt: tok.ExpiresAt}

	if !scope.WorkshopScoped() {
		s.put(tok.Value, e)
		return tok, nil
	}

	ls := s.liveFor(scope.WorkshopID)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if prev, ok := ls.refs[scope.WorkshopID]; ok {
		s.invalidate(prev.token, tok.IssuedAt)
	}
	s.put(tok.Value, e)
	ls.refs[scope.WorkshopID] = liveRef{token: tok.Value, expiresAt: tok.ExpiresAt}
	return tok, nil
}

func (s *MemoryStore) put(token string, e *entry) {
	sh := s.shardFor(token)
	sh.mu.Lock()
	sh.entries[token] = e
	sh.mu.Unlock()
}

// invalidate removes a token that is still unused and unexpired at now.
// Used and expired ones stay as tombstones until Purge.
func (s *MemoryStore) invalidate(token string, now time.Time) {
	sh := s.shardFor(token)
	sh.mu.Lock()
	if e, ok := sh.entries[token]; ok && !e.used && !now.After(e.expiresAt) {
		delete(sh.entries, token)
	}
	sh.mu.Unlock()
}

// Consume implements Store.
func (s *MemoryStore) Consume(ctx context.Context, token string, want model.Scope) (model.Scope, error) {
	if err := ctx.Err(); err != nil {
		return model.Scope{}, err
	}
	sh := s.shardFor(token)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[token]
	if !ok || !e.scope.Accepts(want) {
		return model.Scope{}, apperr.ErrInvalidToken
	}
	if e.used {
		return model.Scope{}, apperr.ErrAlreadyUsed
	}
	if s.clock.Now().After(e.expiresAt) {
		return model.Scope{}, apperr.ErrTokenExpired
	}
	e.used = true
	return e.scope, nil
}

// Purge implements Store. Entries are dropped once expiry plus retention
// lies in the past.
func (s *MemoryStore) Purge(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.retention)
	purged := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		sh.mu.Lock()
		for k, e := range sh.entries {
			if e.expiresAt.Before(cutoff) {
				delete(sh.entries, k)
				purged++
			}
		}
		sh.mu.Unlock()
	}
	for _, ls := range s.live {
		ls.mu.Lock()
		for wid, ref := range ls.refs {
			if ref.expiresAt.Before(cutoff) {
				delete(ls.refs, wid)
			}
		}
		ls.mu.Unlock()
	}
	return purged, nil
}

// Len returns the number of stored entries, tombstones included.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
