package scheduler

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"deliveryd/internal/task/engine"
	logx "deliveryd/pkg/logx"
)

const enqueueWarnEvery = 5 * time.Second

// reportEnqueueError logs a timer callback the engine refused. Overlap skips
// are expected and stay at debug; other failures warn at most once per
// enqueueWarnEvery for each task.
func (s *Service) reportEnqueueError(name string, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, engine.ErrOverlapSkip):
		s.log.Debug("timer callback skipped", logx.String("task", name), logx.Err(err))
		return
	}

	s.enqMu.Lock()
	warn, ok := s.enqWarn[name]
	if !ok {
		warn = &rate.Sometimes{Interval: enqueueWarnEvery}
		s.enqWarn[name] = warn
	}
	s.enqMu.Unlock()

	warn.Do(func() {
		s.log.Warn("timer callback failed to enqueue", logx.String("task", name), logx.Err(err))
	})
}
