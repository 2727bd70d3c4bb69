package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the engine and the lifecycle manager.
const (
	DeliveryStarted  = "delivery.started"
	DeliveryEnded    = "delivery.ended"
	DeliveryRecorded = "delivery.recorded"
	DeliveryUpdated  = "delivery.updated"

	CatalogReloaded = "catalog.reloaded"

	NotifierQueued  = "notifier.queued"
	NotifierSent    = "notifier.sent"
	NotifierFailed  = "notifier.failed"
	NotifierDropped = "notifier.dropped"
	NotifierDeduped = "notifier.deduped"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"
	TaskDropped  = "task.dropped"
)

// Event is one in-process signal. Data carries the typed payload
// (lifecycle snapshots and results, notifier and task records).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to buffered subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	// Subscribe receives every event, or only the listed types when any are
	// given. unsubscribe closes the channel and may be called more than once.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

type subscriber struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *subscriber) wants(typ string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: make(map[uint64]*subscriber)}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// held across sends so unsubscribe cannot close a channel under us
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, max(buffer, 1))}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	id := b.next.Add(1)

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Nop discards everything; its subscriptions are closed from the start.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
