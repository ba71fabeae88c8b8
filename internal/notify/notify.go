package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTitle = "New Order Received!"
	DefaultBody  = "A new delivery is waiting for acceptance."
	DefaultTag   = "new-order"
)

// Notification is a best-effort alert raised alongside the alarm tone.
type Notification struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Tag      string    `json:"tag"`
	OrderID  string    `json:"order_id"`
	RaisedAt time.Time `json:"raised_at"`
}

// Notifier delivers notifications to one surface.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Log writes notifications to the structured log.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("notify")}
}

func (l *Log) Notify(_ context.Context, n Notification) error {
	l.log.Info(n.Title,
		zap.String("body", n.Body),
		zap.String("order_id", n.OrderID),
		zap.String("notification_id", n.ID),
	)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop is a no-op notifier useful in tests.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
