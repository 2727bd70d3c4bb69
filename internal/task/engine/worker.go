package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"deliveryd/internal/eventbus"
	logx "deliveryd/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, stopCh, t)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask) {
	defer qt.state.release()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	name := qt.task.Name
	s.log.Debug("task.started", logx.String("task", name), logx.Duration("queue_delay", queueDelay))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: TaskEvent{ID: qt.task.ID, Name: name, Started: start, QueueDelay: queueDelay}})

	attempts, err := s.runWithRetry(ctx, stopCh, qt)

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", name), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: item})
	} else {
		s.log.Debug("task.completed", logx.String("task", name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: item})
	}
	s.record(item)
}

// runWithRetry runs qt until it succeeds, fails permanently or exhausts its
// retries. It returns the number of attempts made and the last error.
func (s *Service) runWithRetry(ctx context.Context, stopCh <-chan struct{}, qt queuedTask) (int, error) {
	for attempt := 1; ; attempt++ {
		err := s.runOnce(ctx, qt)
		if err == nil {
			return attempt, nil
		}
		if cause, permanent := unwrapPermanent(err); permanent {
			return attempt, cause
		}
		if attempt > qt.retryMax {
			return attempt, err
		}

		delay := backoffDelay(s.cfg.RetryBase, attempt)
		s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return attempt, ctx.Err()
		case <-stopCh:
			tmr.Stop()
			return attempt, ErrStopped
		case <-tmr.C:
		}
	}
}

// runOnce converts a task panic into an error so one bad callback cannot
// kill a worker.
func (s *Service) runOnce(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

const maxBackoff = 15 * time.Second

// backoffDelay doubles base per failed attempt, capped at maxBackoff.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}
