package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/broadcast"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

var errSubscriptionClosed = errors.New("event subscription closed")

// EventSource hands out broadcaster subscriptions.
type EventSource interface {
	SubscribeEvents() *broadcast.Subscription
	UnsubscribeEvents(*broadcast.Subscription)
}

// publisher is the part of *amqp.Channel the relay uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Relay forwards broadcaster events to the workshop.events fanout
// exchange. Events published while the broker is unreachable are lost;
// the relay is a best-effort tap and never slows the engine down.
type Relay struct {
	url string
	src EventSource
	log logrus.FieldLogger
}

// NewRelay returns a relay that dials url.
func NewRelay(url string, src EventSource, log logrus.FieldLogger) *Relay {
	return &Relay{url: url, src: src, log: log.WithField("component", "event-relay")}
}

// Run subscribes to src and keeps a broker connection open until ctx ends
// or the subscription is closed. It reconnects with exponential backoff.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.src.SubscribeEvents()
	defer r.src.UnsubscribeEvents(sub)

	backoff := time.Second
	for {
		conn, err := amqp.Dial(r.url)
		if err != nil {
			r.log.WithError(err).Warnf("dial broker failed; retrying in %s", backoff)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		err = r.session(ctx, conn, sub)
		_ = conn.Close()
		if ctx.Err() != nil || errors.Is(err, errSubscriptionClosed) {
			return nil
		}
		r.log.WithError(err).Warn("relay session ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (r *Relay) session(ctx context.Context, conn *amqp.Connection, sub *broadcast.Subscription) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareExchange(ch); err != nil {
		return err
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	r.log.Info("relaying events to broker")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case aerr := <-closed:
			return fmt.Errorf("connection closed: %v", aerr)
		case ev, ok := <-sub.C:
			if !ok {
				return errSubscriptionClosed
			}
			if err := r.forward(ctx, ch, ev); err != nil {
				return err
			}
		}
	}
}

// forward publishes one event. Kinds that are not relayed and payloads
// that cannot be encoded are skipped; only broker errors are returned.
func (r *Relay) forward(ctx context.Context, ch publisher, ev model.Event) error {
	if !Relayed(ev.Kind) {
		return nil
	}
	msg, err := NewEventMessage(ev)
	if err != nil {
		r.log.WithError(err).WithField("kind", ev.Kind).Error("encode event payload")
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		r.log.WithError(err).WithField("kind", ev.Kind).Error("encode event")
		return nil
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.At,
		MessageId:    strconv.FormatUint(msg.Seq, 10),
		Type:         string(msg.Kind),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, ExchangeName, string(ev.Kind), false, false, pub); err != nil {
		return fmt.Errorf("publish seq %d: %w", msg.Seq, err)
	}
	return nil
}

func declareExchange(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	return nil
}

// sleepCtx waits d or until ctx ends; it reports whether the wait finished.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d < 30*time.Second {
		d *= 2
	}
	return d
}
