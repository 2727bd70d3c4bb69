package storage

import (
	"context"
	"errors"
	"time"

	"deliveryd/internal/event"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot + JSON Lines files next to Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reached through DSN
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduleRecord is a persisted next-start/next-end pair.
type ScheduleRecord struct {
	ID       string    `json:"id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
}

// Store is the persistence API used by the app.
type Store interface {
	// SaveActiveEvents replaces the full set of saved active events.
	SaveActiveEvents(ctx context.Context, events []event.Snapshot) error
	LoadActiveEvents(ctx context.Context) ([]event.Snapshot, error)

	PutSchedule(ctx context.Context, rec ScheduleRecord) error
	DeleteSchedule(ctx context.Context, id string) error
	LoadSchedules(ctx context.Context) ([]ScheduleRecord, error)

	AppendResult(ctx context.Context, res event.Result) error
	// RecentResults returns up to limit results, newest first. An empty id
	// matches every delivery.
	RecentResults(ctx context.Context, id string, limit int) ([]event.Result, error)

	Close() error
}
