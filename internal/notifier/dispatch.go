package notifier

import (
	"context"
	"math/rand/v2"
	"time"

	"deliveryd/internal/eventbus"
	logx "deliveryd/pkg/logx"
)

const sendTimeout = 10 * time.Second

// work consumes q until it is closed (nil) or ctx ends (ctx.Err()).
func (s *Service) work(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := cfg.RetryMax + 1
	var err error
	for attempt := 1; ; attempt++ {
		if lim.Wait(ctx) != nil {
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = s.sink.Send(sendCtx, j.n)
		cancel()
		if err == nil {
			s.remember(j.n)
			s.publish(eventbus.NotifierSent, j.n, j.key, nil)
			return
		}
		s.log.Debug("notification send failed", logx.Int("attempt", attempt), logx.Int("of", attempts), logx.Err(err))
		if attempt >= attempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	s.log.Warn("notification failed", logx.String("id", j.n.DeliveryID), logx.String("kind", string(j.n.Kind)), logx.Err(err))
	s.publish(eventbus.NotifierFailed, j.n, j.key, err)
}

// retryDelay is the pause after the given failed attempt (1-based): the
// base doubled per attempt with ±30% jitter, never above RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + 0.6*rand.Float64()))
	return min(d, cfg.RetryMaxDelay)
}
