package broadcast

import (
	"context"
	"net/http"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/model"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Filter decides whether an event is forwarded to a client. Nil forwards all.
type Filter func(model.Event) bool

// ForWorkshop keeps events about the given workshop.
func ForWorkshop(id uint64) Filter {
	return func(ev model.Event) bool {
		wid, ok := WorkshopOf(ev.Payload)
		return ok && wid == id
	}
}

// WithoutKinds drops the listed kinds.
func WithoutKinds(kinds ...model.EventKind) Filter {
	return func(ev model.Event) bool {
		for _, k := range kinds {
			if ev.Kind == k {
				return false
			}
		}
		return true
	}
}

// All combines filters; an event passes when every non-nil filter passes.
func All(filters ...Filter) Filter {
	return func(ev model.Event) bool {
		for _, f := range filters {
			if f != nil && !f(ev) {
				return false
			}
		}
		return true
	}
}

// WorkshopOf extracts the workshop id carried by a known payload.
func WorkshopOf(payload any) (uint64, bool) {
	switch p := payload.(type) {
	case model.SeatsPayload:
		return p.WorkshopID, true
	case model.AttendancePayload:
		return p.WorkshopID, true
	case model.TokenRotatedPayload:
		return p.WorkshopID, true
	}
	return 0, false
}

// ServeWS upgrades the request and streams events as JSON text frames until
// the client goes away or the subscription is closed.
func ServeWS(w http.ResponseWriter, r *http.Request, b *Broadcaster, filter Filter, log logrus.FieldLogger) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.WithError(err).Warn("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)
	l := log.WithField("subscriber", sub.ID)
	l.Debug("websocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Incoming frames are ignored; reading is needed to observe the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				conn.Close(ws.StatusGoingAway, "server shutting down")
				return
			}
			if filter != nil && !filter(ev) {
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				l.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			l.Debug("websocket client disconnected")
			return
		}
	}
}
