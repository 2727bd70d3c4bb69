package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"deliveryd/internal/delivery"
	"deliveryd/internal/task/engine"
)

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers in order, including
// timers armed by callbacks that are already due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// inlineExec runs tasks synchronously on the caller goroutine.
type inlineExec struct{}

func (inlineExec) Enqueue(t engine.Task) error { return t.Run(context.Background()) }

// queueExec holds tasks until drained.
type queueExec struct {
	mu    sync.Mutex
	tasks []engine.Task
}

func (q *queueExec) Enqueue(t engine.Task) error {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	return nil
}

func (q *queueExec) drain() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, t := range tasks {
		_ = t.Run(context.Background())
	}
}

type memStore struct {
	mu    sync.Mutex
	infos map[string]Info
}

func newMemStore(infos ...Info) *memStore {
	m := &memStore{infos: map[string]Info{}}
	for _, in := range infos {
		m.infos[in.ID] = in
	}
	return m
}

func (m *memStore) LoadScheduleInfos(context.Context) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.infos))
	for _, in := range m.infos {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SaveScheduleInfo(_ context.Context, in Info) error {
	m.mu.Lock()
	m.infos[in.ID] = in
	m.mu.Unlock()
	return nil
}

func (m *memStore) DeleteScheduleInfo(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.infos, id)
	m.mu.Unlock()
	return nil
}

func (m *memStore) get(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.infos[id]
	return in, ok
}

// recorder collects hook invocations.
type recorder struct {
	mu     sync.Mutex
	starts []string
	ends   []string
}

func (r *recorder) onStart(_ context.Context, id string) error {
	r.mu.Lock()
	r.starts = append(r.starts, id)
	r.mu.Unlock()
	return nil
}

func (r *recorder) onEnd(_ context.Context, id string) error {
	r.mu.Lock()
	r.ends = append(r.ends, id)
	r.mu.Unlock()
	return nil
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts), len(r.ends)
}

type defs map[string]delivery.Definition

func (d defs) lookup(id string) (delivery.Definition, bool) {
	def, ok := d[id]
	return def, ok
}

func daily(id, start, end string) delivery.Definition {
	return delivery.Definition{
		ID:       id,
		Enabled:  true,
		Timezone: "UTC",
		Schedule: delivery.Schedule{Start: start, End: end},
		Winners:  1,
	}
}
