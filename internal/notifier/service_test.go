package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deliveryd/internal/delivery"
	"deliveryd/internal/event"
	"deliveryd/internal/eventbus"
	logx "deliveryd/pkg/logx"
)

type captureSink struct {
	mu   sync.Mutex
	got  []Notification
	fail atomic.Int32 // fail this many sends first
}

func (c *captureSink) Send(_ context.Context, n Notification) error {
	if c.fail.Load() > 0 {
		c.fail.Add(-1)
		return errors.New("sink down")
	}
	c.mu.Lock()
	c.got = append(c.got, n)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) sent() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.got...)
}

func fastConfig() Config {
	return Config{Enabled: true, Workers: 1, QueueSize: 8, RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond, DedupWindow: time.Minute}
}

var testDef = delivery.Definition{ID: "daily", DisplayName: "Daily Ore Rush", Notify: delivery.Notification{Message: "{delivery}: bring {item} from {category}"}}

func testSnapshot() event.Snapshot {
	start := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	return event.Snapshot{ID: "daily", RunID: "run-1", Category: "ores", Item: "DIAMOND", Start: start, End: start.Add(2 * time.Hour), Timezone: "UTC"}
}

func TestNotifyStartSendsRenderedText(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	s := New(fastConfig(), sink, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.NotifyStart(testDef, testSnapshot())
	require.Eventually(t, func() bool { return len(sink.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	n := sink.sent()[0]
	assert.Equal(t, KindStart, n.Kind)
	assert.Equal(t, "Daily Ore Rush: bring DIAMOND from ores", n.Text)
	require.NotNil(t, n.Event)
	assert.Equal(t, "run-1", n.Event.RunID)
	require.Eventually(t, func() bool { return len(s.History()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestNotifyDedupsIdenticalAnnouncements(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(fastConfig(), sink, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.NotifyStart(testDef, testSnapshot())
	s.NotifyStart(testDef, testSnapshot())

	deduped := false
	timeout := time.After(2 * time.Second)
	for !deduped {
		select {
		case e := <-events:
			deduped = e.Type == eventbus.NotifierDeduped
		case <-timeout:
			t.Fatal("no dedup event")
		}
	}
	require.Eventually(t, func() bool { return len(sink.sent()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	sink.fail.Store(2)
	s := New(fastConfig(), sink, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	res := event.Result{RunID: "run-1", ID: "daily", Total: 14, Winners: []event.Winner{{Participant: "a", Name: "alice", Count: 9, Rank: 1}}}
	s.NotifyEnd(testDef, res)
	require.Eventually(t, func() bool { return len(sink.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Daily Ore Rush has ended with 14 deliveries. Winners: #1 alice (9)", sink.sent()[0].Text)
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()
	off := New(Config{}, &captureSink{}, logx.Nop(), nil)
	off.Start(context.Background())
	assert.ErrorIs(t, off.Notify(context.Background(), Notification{Kind: KindStart}), ErrDisabled)

	s := New(fastConfig(), &captureSink{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Notify(context.Background(), Notification{Kind: KindStart}), ErrStopped)
	s.Start(context.Background())
	s.Stop(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), Notification{Kind: KindStart}), ErrStopped)
}

func TestRenderDefaults(t *testing.T) {
	t.Parallel()
	def := delivery.Definition{ID: "weekly"}
	got := RenderStart(def, testSnapshot())
	assert.Equal(t, "weekly has started: deliver DIAMOND (ores) before 2026-10-15 12:00 UTC", got)
	assert.Equal(t, "weekly has ended with 0 deliveries. Winners: none", RenderEnd(def, event.Result{}))
}

func TestRetryDelayIsCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: 300 * time.Millisecond}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, cfg.RetryMaxDelay)
	}
}

func TestDedupCacheWindowAndCapacity(t *testing.T) {
	t.Parallel()
	c := newDedupCache()
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

	assert.True(t, c.allow("a", now, time.Minute, 2))
	assert.False(t, c.allow("a", now.Add(30*time.Second), time.Minute, 2))
	assert.True(t, c.allow("a", now.Add(time.Minute), time.Minute, 2))

	assert.True(t, c.allow("b", now.Add(65*time.Second), time.Minute, 2))
	assert.True(t, c.allow("c", now.Add(61*time.Second), time.Minute, 2))
	assert.Equal(t, 2, c.len())
	// "a" was closest to expiry and got evicted
	assert.True(t, c.allow("a", now.Add(62*time.Second), time.Minute, 2))
}

func TestKeyOfSeparatesFields(t *testing.T) {
	t.Parallel()
	a := keyOf(Notification{Kind: KindStart, DeliveryID: "ab", RunID: "c"})
	b := keyOf(Notification{Kind: KindStart, DeliveryID: "a", RunID: "bc"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, keyOf(Notification{Kind: KindStart, DeliveryID: "ab", RunID: "c"}))
}
