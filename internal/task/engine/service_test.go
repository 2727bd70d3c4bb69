package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deliveryd/internal/eventbus"
	logx "deliveryd/pkg/logx"
)

func newStarted(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitHistory(t *testing.T, s *Service, n int) []HistoryItem {
	t.Helper()
	var h []HistoryItem
	require.Eventually(t, func() bool {
		h = s.Snapshot().History
		return len(h) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return h
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 2, QueueSize: 4})

	done := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "start:daily", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	h := waitHistory(t, s, 1)
	assert.Equal(t, "start:daily", h[0].Name)
	assert.Empty(t, h[0].Error)
	assert.Equal(t, 1, h[0].Attempts)
}

func TestEnqueueRejectsInvalid(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)

	assert.ErrorIs(t, s.Enqueue(Task{Name: "x"}), ErrInvalidTask)
	assert.ErrorIs(t, s.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}), ErrInvalidTask)
	assert.ErrorIs(t, s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)
}

func TestPanicIsRecorded(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 1, RetryMax: 0})

	require.NoError(t, s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("bad") }}))
	h := waitHistory(t, s, 1)
	assert.Contains(t, h[0].Error, "panic: bad")

	// The worker survives.
	done := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "after", Run: func(context.Context) error { close(done); return nil }}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestRetryAndNoRetry(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 1, RetryMax: 2, RetryBase: time.Millisecond})

	var flaky atomic.Int32
	require.NoError(t, s.Enqueue(Task{Name: "flaky", Run: func(context.Context) error {
		if flaky.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}}))
	h := waitHistory(t, s, 1)
	assert.Empty(t, h[0].Error)
	assert.Equal(t, 3, h[0].Attempts)

	var permanent atomic.Int32
	require.NoError(t, s.Enqueue(Task{Name: "permanent", Run: func(context.Context) error {
		permanent.Add(1)
		return NoRetry(errors.New("unknown delivery"))
	}}))
	h = waitHistory(t, s, 2)
	assert.Equal(t, "unknown delivery", h[1].Error)
	assert.Equal(t, int32(1), permanent.Load())
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 2})

	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{Name: "end:daily", Overlap: OverlapSkipIfRunning, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, s.Enqueue(task))
	<-started

	assert.ErrorIs(t, s.Enqueue(task), ErrOverlapSkip)
	close(release)
	waitHistory(t, s, 1)

	task.Run = func(context.Context) error { return nil }
	require.Eventually(t, func() bool { return s.Enqueue(task) == nil }, time.Second, 5*time.Millisecond)
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 1, QueueSize: 1})

	block := make(chan struct{})
	running := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "blocker", Run: func(context.Context) error {
		close(running)
		<-block
		return nil
	}}))
	<-running
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Enqueue(Task{Name: "queued", Run: noop}))
	assert.ErrorIs(t, s.Enqueue(Task{Name: "dropped", Run: noop}), ErrQueueFull)
	assert.Equal(t, uint64(1), s.Snapshot().Dropped)
	close(block)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 100*time.Millisecond, backoffDelay(100*time.Millisecond, 1))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(100*time.Millisecond, 3))
	assert.Equal(t, 15*time.Second, backoffDelay(time.Second, 10))
}
