// Package broadcast fans domain events out to live subscribers such as
// websocket clients and the RabbitMQ relay. Publishing never blocks: a
// subscriber whose buffer is full misses the event and its drop counter
// goes up.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/clock"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Subscription is one registered receiver.
type Subscription struct {
	ID      string
	C       <-chan model.Event
	send    chan model.Event
	dropped atomic.Uint64
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Broadcaster maintains the set of subscriptions.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	// order serializes sequence assignment with fan-out so every subscriber
	// sees events in Seq order.
	order  sync.Mutex
	seq    uint64
	buffer int
	clock  clock.Clock
	log    logrus.FieldLogger
}

// New returns a Broadcaster. A non-positive buffer uses DefaultBuffer.
func New(buffer int, clk clock.Clock, log logrus.FieldLogger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		clock:  clk,
		log:    log.WithField("component", "broadcaster"),
	}
}

// Subscribe registers a new subscription. After Close it returns a
// subscription whose channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan model.Event, b.buffer)
	s := &Subscription{ID: uuid.NewString(), C: ch, send: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s.ID] = s
	return s
}

// Unsubscribe removes s and closes its channel. Calling it twice is safe.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.ID]; ok {
		delete(b.subs, s.ID)
		close(s.send)
	}
}

// Publish delivers an event to every current subscriber.
func (b *Broadcaster) Publish(kind model.EventKind, payload any) {
	b.order.Lock()
	defer b.order.Unlock()

	b.seq++
	ev := model.Event{Seq: b.seq, Kind: kind, Payload: payload, At: b.clock.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.send <- ev:
		default:
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				b.log.WithFields(logrus.Fields{"subscriber": s.ID, "dropped": n}).Warn("subscriber lagging, event dropped")
			}
		}
	}
}

// Count returns the number of active subscriptions.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Later publishes reach nobody.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.send)
	}
}
