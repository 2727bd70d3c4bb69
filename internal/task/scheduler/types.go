package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"deliveryd/internal/delivery"
	"deliveryd/internal/schedule"
	"deliveryd/internal/task/engine"
	logx "deliveryd/pkg/logx"
)

var (
	ErrNotSchedulable    = errors.New("delivery has no start or end expression")
	ErrInvalidExpression = errors.New("invalid schedule expression")
	ErrNoOccurrence      = errors.New("schedule has no upcoming occurrence")
)

// Config controls the scheduler.
type Config struct {
	// Timezone is the IANA zone used for definitions without their own.
	Timezone string
	// StoreTimeout bounds each InfoStore call.
	StoreTimeout time.Duration
}

// Info is the retained next-start/next-end pair of one definition.
type Info struct {
	ID       string    `json:"id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
}

// InfoStore persists Infos so restart resumption can test window membership.
type InfoStore interface {
	LoadScheduleInfos(ctx context.Context) ([]Info, error)
	SaveScheduleInfo(ctx context.Context, info Info) error
	DeleteScheduleInfo(ctx context.Context, id string) error
}

// Executor runs callbacks off the timer goroutine. *engine.Service
// satisfies it.
type Executor interface {
	Enqueue(t engine.Task) error
}

// Lookup returns the current definition for an id.
type Lookup func(id string) (delivery.Definition, bool)

// Callback is invoked with a definition id.
type Callback func(ctx context.Context, id string) error

// Hooks are the start and end actions driven by the timers.
type Hooks struct {
	OnStart Callback
	OnEnd   Callback
}

type timerKind uint8

const (
	kindStart timerKind = iota
	kindEnd
	kindRecur
)

func (k timerKind) String() string {
	switch k {
	case kindStart:
		return "start"
	case kindEnd:
		return "end"
	default:
		return "recurrence"
	}
}

var kinds = [...]timerKind{kindStart, kindEnd, kindRecur}

type timerKey struct {
	id   string
	kind timerKind
}

// plan is a definition compiled for timer arithmetic.
type plan struct {
	def   delivery.Definition
	start schedule.Expr
	end   schedule.Expr
	loc   *time.Location
}

// Entry is one row of Snapshot.
type Entry struct {
	ID    string               `json:"id"`
	Info  *Info                `json:"info,omitempty"`
	Armed map[string]time.Time `json:"armed,omitempty"`
}

type Service struct {
	mu sync.Mutex

	cfg   Config
	log   logx.Logger
	loc   *time.Location
	clock Clock
	exec  Executor
	store InfoStore
	find  Lookup
	hooks Hooks

	timers map[timerKey]Timer
	due    map[timerKey]time.Time
	vers   map[timerKey]uint64
	infos  map[string]Info
	plans  map[string]plan

	enqMu   sync.Mutex
	enqWarn map[string]*rate.Sometimes
}
