package notifier

import (
	"context"
	"time"

	"deliveryd/internal/event"
	logx "deliveryd/pkg/logx"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type Kind string

const (
	KindStart Kind = "start"
	KindEnd   Kind = "end"
)

// Notification is one rendered announcement.
type Notification struct {
	Kind       Kind            `json:"kind"`
	DeliveryID string          `json:"delivery_id"`
	RunID      string          `json:"run_id"`
	Text       string          `json:"text"`
	At         time.Time       `json:"at"`
	Event      *event.Snapshot `json:"event,omitempty"`
	Result     *event.Result   `json:"result,omitempty"`
}

// Sink delivers a notification somewhere. Send must honor ctx.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogSink writes notifications to a logger.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Send(_ context.Context, n Notification) error {
	s.Log.Info("notification",
		logx.String("kind", string(n.Kind)),
		logx.String("delivery", n.DeliveryID),
		logx.String("run_id", n.RunID),
		logx.String("text", n.Text),
	)
	return nil
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Kind Kind      `json:"kind"`
	Text string    `json:"text"`
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Kind       Kind      `json:"kind"`
	DeliveryID string    `json:"delivery_id"`
	Key        string    `json:"key"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}
