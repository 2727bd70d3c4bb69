package lifecycle

import (
	"time"

	"deliveryd/internal/delivery"
	"deliveryd/internal/event"
)

// Catalog is the read side of the definition registry.
type Catalog interface {
	Definition(id string) (delivery.Definition, bool)
	Categories() delivery.Categories
}

// Timers is the part of the scheduler the manager drives.
type Timers interface {
	ScheduleEnd(id string, at time.Time)
	CancelScheduledEvent(id string) bool
	RescheduleAt(def delivery.Definition, at time.Time) error
}

// Notifier announces starts and ends. Calls must not block.
type Notifier interface {
	NotifyStart(def delivery.Definition, ev event.Snapshot)
	NotifyEnd(def delivery.Definition, res event.Result)
}

// NameResolver maps a participant key to a display name.
type NameResolver func(participant string) string

// Recorded is the payload of a delivery.recorded bus event.
type Recorded struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	Participant string `json:"participant"`
	Amount      int64  `json:"amount"`
	Count       int64  `json:"count"`
}
