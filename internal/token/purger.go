package token

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Purger calls Store.Purge on a fixed interval until its context ends.
type Purger struct {
	store    Store
	interval time.Duration
	log      logrus.FieldLogger
}

// NewPurger returns a Purger. A non-positive interval falls back to 30s.
func NewPurger(store Store, interval time.Duration, log logrus.FieldLogger) *Purger {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Purger{store: store, interval: interval, log: log.WithField("component", "token_purger")}
}

// Run blocks until ctx is cancelled.
func (p *Purger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.log.WithField("interval", p.interval).Info("token purger started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info("token purger stopped")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Purger) sweep(ctx context.Context) {
	n, err := p.store.Purge(ctx)
	if err != nil && ctx.Err() == nil {
		p.log.WithError(err).Warn("token purge failed")
		return
	}
	if n > 0 {
		p.log.WithField("purged", n).Debug("expired tokens purged")
	}
}
