package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/model"
)

// AttendanceLogger consumes relayed events and appends one line per
// check-in to <dir>/attendance.log.
type AttendanceLogger struct {
	url  string
	path string
	log  logrus.FieldLogger
	mu   sync.Mutex
}

// NewAttendanceLogger returns a consumer writing under dir ("logs" when empty).
func NewAttendanceLogger(url, dir string, log logrus.FieldLogger) *AttendanceLogger {
	if dir == "" {
		dir = "logs"
	}
	return &AttendanceLogger{
		url:  url,
		path: filepath.Join(dir, "attendance.log"),
		log:  log.WithField("component", "attendance-consumer"),
	}
}

// Run connects to the broker, binds the attendance queue to the events
// exchange and consumes until ctx ends, reconnecting with backoff.
func (a *AttendanceLogger) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(a.url)
		if err != nil {
			a.log.WithError(err).Warnf("dial broker failed; retrying in %s", backoff)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		err = a.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		a.log.WithError(err).Warn("consume loop ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (a *AttendanceLogger) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		a.log.WithError(err).Warn("set QoS failed")
	}
	if err := declareExchange(ch); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(AttendanceQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(AttendanceQueue, "", ExchangeName, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(AttendanceQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := a.Handle(d.Body); err != nil {
				a.log.WithError(err).Error("handle message failed")
				_ = d.Nack(false, false) // do not requeue a message that will fail again
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle processes one message body. Kinds other than attendance are
// accepted and ignored.
func (a *AttendanceLogger) Handle(body []byte) error {
	var msg EventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if msg.Kind != model.EventAttendance {
		return nil
	}
	var p model.AttendancePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal attendance: %w", err)
	}
	return a.append(FormatAttendance(msg.Seq, p))
}

func (a *AttendanceLogger) append(line string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatAttendance renders one attendance log line.
func FormatAttendance(seq uint64, p model.AttendancePayload) string {
	return fmt.Sprintf("[%s] Checked in | workshop_id=%d | user_id=%d | name=%q | email=%q | seq=%d\n",
		p.CheckedInAt.UTC().Format(time.RFC3339), p.WorkshopID, p.UserID, p.Name, p.Email, seq)
}
