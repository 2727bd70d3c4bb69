package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "deliveryd/pkg/logx"
)

// 2026-10-15 is a Thursday.
func utc(day, hour, minute int) time.Time {
	return time.Date(2026, time.October, day, hour, minute, 0, 0, time.UTC)
}

type fixture struct {
	clock *fakeClock
	store *memStore
	rec   *recorder
	defs  defs
	svc   *Service
}

func newFixture(t *testing.T, now time.Time, exec Executor, infos ...Info) *fixture {
	t.Helper()
	f := &fixture{
		clock: newFakeClock(now),
		store: newMemStore(infos...),
		rec:   &recorder{},
		defs:  defs{},
	}
	f.svc = New(Config{Timezone: "UTC"}, exec, logx.Nop(),
		WithClock(f.clock),
		WithStore(f.store),
		WithLookup(f.defs.lookup),
	)
	f.svc.SetHooks(Hooks{OnStart: f.rec.onStart, OnEnd: f.rec.onEnd})
	require.NoError(t, f.svc.Start(context.Background()))
	return f
}

func TestScheduleEventDelayedStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 9, 0), inlineExec{})
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")

	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))
	in, ok := f.svc.Info("d")
	require.True(t, ok)
	assert.Equal(t, utc(15, 10, 0), in.Start)
	assert.Equal(t, utc(15, 12, 0), in.End)
	stored, ok := f.store.get("d")
	require.True(t, ok)
	assert.Equal(t, in, stored)

	starts, _ := f.rec.counts()
	assert.Equal(t, 0, starts)

	f.clock.Advance(time.Hour)
	starts, ends := f.rec.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, ends)

	snap := f.svc.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, utc(15, 12, 0), snap[0].Armed["end"])
}

func TestScheduleEventInsideWindowStartsNow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 10, 30), inlineExec{})
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")

	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))
	starts, _ := f.rec.counts()
	assert.Equal(t, 1, starts)
	in, _ := f.svc.Info("d")
	assert.Equal(t, utc(15, 10, 0), in.Start)
	assert.Equal(t, utc(15, 12, 0), in.End)

	// End fires, then the recurrence one second later re-arms tomorrow.
	f.clock.Advance(90*time.Minute + time.Second)
	starts, ends := f.rec.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, ends)

	in, _ = f.svc.Info("d")
	assert.Equal(t, utc(16, 10, 0), in.Start)
	assert.Equal(t, utc(16, 12, 0), in.End)

	f.clock.Advance(24 * time.Hour)
	starts, ends = f.rec.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, ends)
}

func TestScheduleEventSubSecondDelayStartsNow(t *testing.T) {
	t.Parallel()
	now := utc(15, 9, 59).Add(59*time.Second + 500*time.Millisecond)
	f := newFixture(t, now, inlineExec{})
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")

	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))
	starts, _ := f.rec.counts()
	assert.Equal(t, 1, starts)
}

func TestScheduleEventRejectsBadDefinitions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 9, 0), inlineExec{})

	err := f.svc.ScheduleEvent(daily("bad", "every fortnight 10:00", "every day 12:00"))
	assert.ErrorIs(t, err, ErrInvalidExpression)
	err = f.svc.ScheduleEvent(daily("empty", "", "every day 12:00"))
	assert.ErrorIs(t, err, ErrNotSchedulable)
	assert.Equal(t, 0, f.clock.pending())
	assert.Empty(t, f.svc.Snapshot())
}

func TestCancelScheduledEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 9, 0), inlineExec{})
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")
	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))

	assert.True(t, f.svc.CancelScheduledEvent("d"))
	assert.False(t, f.svc.CancelScheduledEvent("d"))
	_, ok := f.store.get("d")
	assert.False(t, ok)

	f.clock.Advance(48 * time.Hour)
	starts, ends := f.rec.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, 0, ends)
}

func TestCancelAfterEnqueueIsHonored(t *testing.T) {
	t.Parallel()
	q := &queueExec{}
	f := newFixture(t, utc(15, 10, 30), q)
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")

	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))
	f.svc.CancelScheduledEvent("d")
	q.drain()

	starts, _ := f.rec.counts()
	assert.Equal(t, 0, starts)
}

func TestRescheduleReplacesPriorTimers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 9, 0), inlineExec{})
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")
	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))

	f.defs["d"] = daily("d", "every day 11:00", "every day 12:00")
	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))

	f.clock.Advance(90 * time.Minute)
	starts, _ := f.rec.counts()
	assert.Equal(t, 0, starts)
	f.clock.Advance(30 * time.Minute)
	starts, _ = f.rec.counts()
	assert.Equal(t, 1, starts)
}

func TestRescheduleAtArmsRecurrenceOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 12, 30), inlineExec{})
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")

	require.NoError(t, f.svc.RescheduleAt(f.defs["d"], utc(15, 12, 31)))
	snap := f.svc.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, map[string]time.Time{"recurrence": utc(15, 12, 31)}, snap[0].Armed)

	f.clock.Advance(time.Minute)
	in, ok := f.svc.Info("d")
	require.True(t, ok)
	assert.Equal(t, utc(16, 10, 0), in.Start)
}

func TestEndHookReschedulingWinsOverRecurrence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 10, 30), inlineExec{})
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")
	f.svc.SetHooks(Hooks{
		OnStart: f.rec.onStart,
		OnEnd: func(ctx context.Context, id string) error {
			f.svc.CancelScheduledEvent(id)
			return f.svc.RescheduleAt(f.defs[id], utc(15, 13, 0))
		},
	})
	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))

	f.clock.Advance(90 * time.Minute)
	snap := f.svc.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, map[string]time.Time{"recurrence": utc(15, 13, 0)}, snap[0].Armed)
}

func TestScheduleEndReplacesEndTimer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 10, 30), inlineExec{})
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")
	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))

	f.svc.ScheduleEnd("d", utc(15, 11, 0))
	in, _ := f.svc.Info("d")
	assert.Equal(t, utc(15, 11, 0), in.End)

	f.clock.Advance(30 * time.Minute)
	_, ends := f.rec.counts()
	assert.Equal(t, 1, ends)
	snap := f.svc.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, map[string]time.Time{"recurrence": utc(15, 12, 0).Add(time.Second)}, snap[0].Armed)

	f.clock.Advance(time.Hour)
	_, ends = f.rec.counts()
	assert.Equal(t, 1, ends)
}

func TestDisabledDefinitionStopsRecurring(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 10, 30), inlineExec{})
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")
	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))

	def := f.defs["d"]
	def.Enabled = false
	f.defs["d"] = def

	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, 0, f.clock.pending())
	_, ok := f.svc.Info("d")
	assert.False(t, ok)
}

func TestResumeActiveEvents(t *testing.T) {
	t.Parallel()
	now := utc(15, 1, 0)
	f := newFixture(t, now, inlineExec{},
		Info{ID: "plain", Start: utc(15, 0, 0), End: utc(15, 2, 0), Timezone: "UTC"},
		Info{ID: "wrapped", Start: utc(16, 22, 0), End: utc(15, 2, 0), Timezone: "UTC"},
		Info{ID: "later", Start: utc(15, 10, 0), End: utc(15, 12, 0), Timezone: "UTC"},
		Info{ID: "gone", Start: utc(15, 0, 0), End: utc(15, 2, 0), Timezone: "UTC"},
	)
	f.defs["plain"] = daily("plain", "every day 00:00", "every day 02:00")
	f.defs["wrapped"] = daily("wrapped", "every day 22:00", "every day 02:00")
	f.defs["later"] = daily("later", "every day 10:00", "every day 12:00")

	rep := f.svc.ResumeActiveEvents()
	assert.Equal(t, []string{"plain", "wrapped"}, rep.Resumed)
	assert.Empty(t, rep.Failed)
	f.rec.mu.Lock()
	assert.Equal(t, []string{"plain", "wrapped"}, f.rec.starts)
	f.rec.mu.Unlock()

	_, ok := f.store.get("gone")
	assert.False(t, ok)

	// Both resumed events end at 02:00.
	f.clock.Advance(time.Hour)
	_, ends := f.rec.counts()
	assert.Equal(t, 2, ends)
}

func TestResumeWrappedAfterStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 23, 0), inlineExec{},
		Info{ID: "night", Start: utc(15, 22, 0), End: utc(15, 2, 0), Timezone: "UTC"},
	)
	f.defs["night"] = daily("night", "every day 22:00", "every day 02:00")

	assert.Equal(t, []string{"night"}, f.svc.ResumeActiveEvents().Resumed)
	in, _ := f.svc.Info("night")
	assert.Equal(t, utc(16, 2, 0), in.End)
}

func TestResumeIsolatesFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 1, 0), inlineExec{},
		Info{ID: "a", Start: utc(15, 0, 0), End: utc(15, 2, 0), Timezone: "UTC"},
		Info{ID: "b", Start: utc(15, 0, 0), End: utc(15, 2, 0), Timezone: "UTC"},
		Info{ID: "c", Start: utc(15, 0, 0), End: utc(15, 2, 0), Timezone: "UTC"},
	)
	for _, id := range []string{"a", "b", "c"} {
		f.defs[id] = daily(id, "every day 00:00", "every day 02:00")
	}
	f.svc.SetHooks(Hooks{OnStart: func(ctx context.Context, id string) error {
		switch id {
		case "a":
			panic("boom")
		case "b":
			return errors.New("no items")
		}
		return f.rec.onStart(ctx, id)
	}})

	rep := f.svc.ResumeActiveEvents()
	assert.Equal(t, []string{"c"}, rep.Resumed)
	assert.Equal(t, []string{"a", "b"}, rep.Failed)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, rep.Attempted())
}

func TestResumeFailureArmsOnlyRecurrence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 1, 0), inlineExec{},
		Info{ID: "d", Start: utc(15, 0, 0), End: utc(15, 2, 0), Timezone: "UTC"},
	)
	f.defs["d"] = daily("d", "every day 00:00", "every day 02:00")
	calls := 0
	f.svc.SetHooks(Hooks{
		OnStart: func(ctx context.Context, id string) error {
			calls++
			if calls == 1 {
				return errors.New("no items")
			}
			return f.rec.onStart(ctx, id)
		},
		OnEnd: f.rec.onEnd,
	})

	rep := f.svc.ResumeActiveEvents()
	assert.Equal(t, []string{"d"}, rep.Failed)
	snap := f.svc.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, map[string]time.Time{"recurrence": utc(15, 2, 0).Add(time.Second)}, snap[0].Armed)

	// Nothing restarts inside the failed window.
	f.clock.Advance(59 * time.Minute)
	assert.Equal(t, 1, calls)

	// The next window starts normally.
	f.clock.Advance(23 * time.Hour)
	starts, _ := f.rec.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 2, calls)
}

func TestStopDisarmsTimers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, utc(15, 9, 0), inlineExec{})
	f.defs["d"] = daily("d", "every day 10:00", "every day 12:00")
	require.NoError(t, f.svc.ScheduleEvent(f.defs["d"]))

	f.svc.Stop(context.Background())
	f.clock.Advance(2 * time.Hour)
	starts, _ := f.rec.counts()
	assert.Equal(t, 0, starts)

	// The retained info survives for the next start.
	_, ok := f.store.get("d")
	assert.True(t, ok)
}
