package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"deliveryd/internal/delivery"
	"deliveryd/internal/schedule"
	"deliveryd/internal/task/engine"
	logx "deliveryd/pkg/logx"
)

func (s *Service) compile(def delivery.Definition) (plan, error) {
	if !def.Schedulable() {
		return plan{}, ErrNotSchedulable
	}
	start, ok := schedule.Parse(def.Schedule.Start)
	if !ok {
		return plan{}, fmt.Errorf("%w: start %q", ErrInvalidExpression, def.Schedule.Start)
	}
	end, ok := schedule.Parse(def.Schedule.End)
	if !ok {
		return plan{}, fmt.Errorf("%w: end %q", ErrInvalidExpression, def.Schedule.End)
	}
	loc, err := def.Location(s.loc)
	if err != nil {
		s.log.Warn("invalid timezone; using default", logx.String("id", def.ID), logx.Err(err))
	}
	return plan{def: def, start: start, end: end, loc: loc}, nil
}

// ScheduleEvent replaces every timer of def with a fresh cycle. When now is
// inside the current window the start callback is dispatched immediately and
// only the end timer is armed; otherwise a start timer is armed for the next
// window.
func (s *Service) ScheduleEvent(def delivery.Definition) error {
	id := def.ID
	p, err := s.compile(def)
	if err != nil {
		s.log.Warn("schedule skipped", logx.String("id", id), logx.Err(err))
		return err
	}
	now := s.clock.Now()

	s.mu.Lock()
	s.cancelLocked(id)
	s.plans[id] = p

	w, inside := schedule.Current(p.start, p.end, p.loc, now)
	if !inside {
		var ok bool
		if w, ok = schedule.Upcoming(p.start, p.end, p.loc, now); !ok {
			delete(s.plans, id)
			s.mu.Unlock()
			s.log.Warn("schedule skipped", logx.String("id", id), logx.Err(ErrNoOccurrence))
			return fmt.Errorf("%w: %s", ErrNoOccurrence, id)
		}
		inside = schedule.Delay(now, w.Start) <= 0
	}
	in := Info{ID: id, Start: w.Start, End: w.End, Timezone: p.loc.String()}
	s.infos[id] = in

	if !inside {
		s.armLocked(id, kindStart, w.Start, now)
		s.mu.Unlock()
		s.persist(in)
		s.log.Debug("start armed", logx.String("id", id), logx.Time("start", w.Start), logx.Time("end", w.End))
		return nil
	}

	s.armLocked(id, kindEnd, w.End, now)
	ver := s.vers[timerKey{id, kindStart}]
	s.mu.Unlock()
	s.persist(in)
	s.log.Info("inside window; starting now", logx.String("id", id), logx.Time("end", w.End))
	s.dispatch(id, kindStart, ver, now)
	return nil
}

// ScheduleEnd replaces the end timer of id.
func (s *Service) ScheduleEnd(id string, at time.Time) {
	now := s.clock.Now()
	s.mu.Lock()
	s.armLocked(id, kindEnd, at, now)
	in, ok := s.infos[id]
	if ok {
		in.End = at
		s.infos[id] = in
	}
	s.mu.Unlock()
	if ok {
		s.persist(in)
	}
}

// RescheduleAt arms only a recurrence timer for def; when it fires the
// definition is scheduled again from its current configuration.
func (s *Service) RescheduleAt(def delivery.Definition, at time.Time) error {
	p, err := s.compile(def)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.plans[def.ID] = p
	s.armLocked(def.ID, kindRecur, at, s.clock.Now())
	s.mu.Unlock()
	s.log.Debug("recurrence armed", logx.String("id", def.ID), logx.Time("at", at))
	return nil
}

// CancelScheduledEvent stops all timers of id and drops its retained info.
// It reports whether anything was armed or retained.
func (s *Service) CancelScheduledEvent(id string) bool {
	s.mu.Lock()
	had := s.cancelLocked(id)
	_, retained := s.infos[id]
	delete(s.infos, id)
	delete(s.plans, id)
	s.mu.Unlock()
	if retained {
		s.forget(id)
	}
	return had || retained
}

// ResumeReport lists the retained events whose window contained now.
type ResumeReport struct {
	Resumed []string
	Failed  []string
}

// Attempted returns the ids of every resumed or failed event.
func (r ResumeReport) Attempted() map[string]bool {
	out := make(map[string]bool, len(r.Resumed)+len(r.Failed))
	for _, id := range r.Resumed {
		out[id] = true
	}
	for _, id := range r.Failed {
		out[id] = true
	}
	return out
}

// ResumeActiveEvents starts, exactly once, every retained event whose window
// contains now. A wrapped window (end before start) is inside when now is at
// or after start, or before end. Failures are logged per event and only a
// recurrence after the window is armed for them.
func (s *Service) ResumeActiveEvents() ResumeReport {
	now := s.clock.Now()
	s.mu.Lock()
	infos := make([]Info, 0, len(s.infos))
	for _, in := range s.infos {
		infos = append(infos, in)
	}
	onStart := s.hooks.OnStart
	s.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	var rep ResumeReport
	for _, in := range infos {
		def, ok := s.lookupDef(in.ID)
		if !ok {
			s.log.Info("dropping retained info for unknown delivery", logx.String("id", in.ID))
			s.mu.Lock()
			delete(s.infos, in.ID)
			s.mu.Unlock()
			s.forget(in.ID)
			continue
		}
		loc := s.zone(in.Timezone)
		w := schedule.Window{Start: in.Start.In(loc), End: in.End.In(loc)}
		if !w.Contains(now) {
			continue
		}

		end := w.End
		if !end.After(now) {
			if p, err := s.compile(def); err == nil {
				end = p.end.Next(now, p.loc)
				s.mu.Lock()
				s.plans[in.ID] = p
				s.mu.Unlock()
			}
		}

		if err := s.call(onStart, in.ID); err != nil {
			s.log.Warn("resume failed", logx.String("id", in.ID), logx.Err(err))
			rep.Failed = append(rep.Failed, in.ID)
			if end.After(now) {
				if err := s.RescheduleAt(def, end.Add(time.Second)); err != nil {
					s.log.Warn("recurrence not armed", logx.String("id", in.ID), logx.Err(err))
				}
			}
			continue
		}

		if end.After(now) {
			s.ScheduleEnd(in.ID, end)
		}
		rep.Resumed = append(rep.Resumed, in.ID)
		s.log.Info("event resumed", logx.String("id", in.ID), logx.Time("end", end))
	}
	return rep
}

// Info returns the retained info of id.
func (s *Service) Info(id string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.infos[id]
	return in, ok
}

// Snapshot lists retained infos and armed timers, sorted by id.
func (s *Service) Snapshot() []Entry {
	s.mu.Lock()
	byID := map[string]*Entry{}
	get := func(id string) *Entry {
		e := byID[id]
		if e == nil {
			e = &Entry{ID: id}
			byID[id] = e
		}
		return e
	}
	for id, in := range s.infos {
		in := in
		get(id).Info = &in
	}
	for k := range s.timers {
		e := get(k.id)
		if e.Armed == nil {
			e.Armed = map[string]time.Time{}
		}
		e.Armed[k.kind.String()] = s.due[k]
	}
	s.mu.Unlock()

	out := make([]Entry, 0, len(byID))
	for _, e := range byID {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// armLocked replaces the timer of (id, kind). Call with s.mu held.
func (s *Service) armLocked(id string, kind timerKind, at, now time.Time) {
	key := timerKey{id, kind}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.vers[key]++
	ver := s.vers[key]
	delay := schedule.Delay(now, at)
	if delay < 0 {
		delay = 0
	}
	s.timers[key] = s.clock.AfterFunc(delay, func() { s.fire(id, kind, ver) })
	s.due[key] = at
}

// cancelLocked stops the timers of id and invalidates queued callbacks.
// Call with s.mu held.
func (s *Service) cancelLocked(id string) bool {
	had := false
	for _, k := range kinds {
		key := timerKey{id, k}
		if t, ok := s.timers[key]; ok {
			t.Stop()
			delete(s.timers, key)
			delete(s.due, key)
			had = true
		}
		s.vers[key]++
	}
	return had
}

func (s *Service) armedLocked(id string) bool {
	for _, k := range kinds {
		if _, ok := s.timers[timerKey{id, k}]; ok {
			return true
		}
	}
	return false
}

func (s *Service) current(key timerKey, ver uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vers[key] == ver
}

func (s *Service) fire(id string, kind timerKind, ver uint64) {
	key := timerKey{id, kind}
	s.mu.Lock()
	if s.vers[key] != ver {
		s.mu.Unlock()
		return
	}
	at := s.due[key]
	delete(s.timers, key)
	delete(s.due, key)

	switch kind {
	case kindStart:
		now := s.clock.Now()
		in, retained := s.infos[id]
		if p, ok := s.plans[id]; ok {
			if end := p.end.Next(now, p.loc); !end.IsZero() {
				s.armLocked(id, kindEnd, end, now)
				if retained {
					in.End = end
					s.infos[id] = in
				}
			}
		}
		s.mu.Unlock()
		if retained {
			s.persist(in)
		}
		s.dispatch(id, kindStart, ver, at)
	case kindEnd:
		s.mu.Unlock()
		s.dispatch(id, kindEnd, ver, at)
	case kindRecur:
		s.mu.Unlock()
		def, ok := s.lookupDef(id)
		if !ok || !def.Enabled {
			s.log.Debug("recurrence dropped", logx.String("id", id))
			return
		}
		_ = s.ScheduleEvent(def)
	}
}

// dispatch enqueues the hook for kind. The task re-checks the version so a
// cancellation between enqueue and execution wins.
func (s *Service) dispatch(id string, kind timerKind, ver uint64, at time.Time) {
	key := timerKey{id, kind}
	name := "delivery." + kind.String() + ":" + id
	task := engine.Task{
		Name:     name,
		RetryMax: -1,
		Run: func(ctx context.Context) error {
			if !s.current(key, ver) {
				s.log.Debug("stale callback ignored", logx.String("task", name))
				return nil
			}
			err := s.call(s.hook(kind), id)
			if kind == kindEnd {
				s.armRecurrenceIfIdle(id, at.Add(time.Second))
			}
			return err
		},
	}
	if s.exec == nil {
		s.reportEnqueueError(name, engine.ErrStopped)
		return
	}
	if err := s.exec.Enqueue(task); err != nil {
		s.reportEnqueueError(name, err)
		if kind == kindEnd {
			s.armRecurrenceIfIdle(id, at.Add(time.Second))
		}
	}
}

func (s *Service) hook(kind timerKind) Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == kindStart {
		return s.hooks.OnStart
	}
	return s.hooks.OnEnd
}

// call runs cb and converts a panic into an error.
func (s *Service) call(cb Callback, id string) (err error) {
	if cb == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("callback panicked", logx.String("id", id), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return cb(context.Background(), id)
}

// armRecurrenceIfIdle arms a recurrence for id unless another timer is
// already armed. Disabled or removed definitions are dropped instead.
func (s *Service) armRecurrenceIfIdle(id string, at time.Time) {
	def, ok := s.lookupDef(id)
	if !ok || !def.Enabled || !def.Schedulable() {
		s.mu.Lock()
		idle := !s.armedLocked(id)
		_, retained := s.infos[id]
		if idle {
			delete(s.infos, id)
			delete(s.plans, id)
		}
		s.mu.Unlock()
		if idle && retained {
			s.forget(id)
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armedLocked(id) {
		return
	}
	// An end that came early must not restart the window it cut short.
	if p, ok := s.plans[id]; ok {
		if w, inside := schedule.Current(p.start, p.end, p.loc, at); inside {
			at = w.End.Add(time.Second)
		}
	}
	s.armLocked(id, kindRecur, at, s.clock.Now())
}

func (s *Service) lookupDef(id string) (delivery.Definition, bool) {
	if s.find != nil {
		return s.find(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	return p.def, ok
}
