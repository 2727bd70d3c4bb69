package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"deliveryd/internal/delivery"
	"deliveryd/internal/event"
	"deliveryd/internal/eventbus"
	rtsup "deliveryd/internal/runtime/supervisor"
	logx "deliveryd/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyCap = 300

type job struct {
	n   Notification
	key string
}

// pipeline is one Start..Stop generation of queue and workers.
type pipeline struct {
	queue   chan job
	sup     *rtsup.Supervisor
	senders sync.WaitGroup
	closed  chan struct{}
}

// Service queues announcements and hands them to a Sink from a small worker
// pool, applying a rate limit, retries and duplicate suppression. It
// satisfies lifecycle.Notifier.
type Service struct {
	log  logx.Logger
	sink Sink
	bus  eventbus.Bus

	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	live     *pipeline
	draining *pipeline

	dedup *dedupCache

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	log = log.With(logx.String("comp", "notifier"))
	if sink == nil {
		sink = LogSink{Log: log}
	}
	s := &Service{log: log, sink: sink, bus: bus, dedup: newDedupCache()}
	s.setConfig(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Workers and QueueSize take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.setConfig(cfg)
	s.mu.Unlock()
}

func (s *Service) setConfig(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

// Start launches the workers. It is a no-op when disabled or already running,
// and waits for a pending Stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if d := s.draining; d != nil {
		s.mu.Unlock()
		select {
		case <-d.closed:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.live != nil || !s.cfg.Enabled {
		return
	}

	p := &pipeline{
		queue:  make(chan job, s.cfg.QueueSize),
		sup:    rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
		closed: make(chan struct{}),
	}
	s.live = p
	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.work(c, p.queue)
		})
	}
	s.log.Info("notifier started", logx.Int("workers", s.cfg.Workers))
}

// Stop refuses new notifications and lets the workers drain the queue until
// ctx is done, after which they are cancelled.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	p := s.live
	if p == nil {
		d := s.draining
		s.mu.Unlock()
		if d != nil {
			select {
			case <-d.closed:
			case <-ctx.Done():
			}
		}
		return
	}
	s.live, s.draining = nil, p
	s.mu.Unlock()

	go func() {
		p.senders.Wait()
		close(p.queue)
		_ = p.sup.Wait(context.Background())
		p.sup.Cancel()

		s.mu.Lock()
		if s.draining == p {
			s.draining = nil
		}
		s.mu.Unlock()
		close(p.closed)
	}()

	select {
	case <-p.closed:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

// NotifyStart queues a start announcement without blocking.
func (s *Service) NotifyStart(def delivery.Definition, ev event.Snapshot) {
	s.announce(def.ID, Notification{
		Kind: KindStart, DeliveryID: def.ID, RunID: ev.RunID,
		Text: RenderStart(def, ev), At: time.Now(), Event: &ev,
	})
}

// NotifyEnd queues an end announcement without blocking.
func (s *Service) NotifyEnd(def delivery.Definition, res event.Result) {
	s.announce(def.ID, Notification{
		Kind: KindEnd, DeliveryID: def.ID, RunID: res.RunID,
		Text: RenderEnd(def, res), At: time.Now(), Result: &res,
	})
}

func (s *Service) announce(id string, n Notification) {
	err := s.Notify(context.Background(), n)
	if err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Warn("notification not queued", logx.String("id", id), logx.String("kind", string(n.Kind)), logx.Err(err))
	}
}

// Notify queues n. A duplicate inside the dedup window is dropped and
// reported as success.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	p := s.live
	if p == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	window, capacity := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	p.senders.Add(1)
	s.mu.Unlock()
	defer p.senders.Done()

	now := time.Now()
	key := keyOf(n)
	if window > 0 && !s.dedup.allow(key, now, window, capacity) {
		s.publish(eventbus.NotifierDeduped, n, key, nil)
		return nil
	}
	select {
	case p.queue <- job{n: n, key: key}:
		s.publish(eventbus.NotifierQueued, n, key, nil)
		return nil
	default:
		s.publish(eventbus.NotifierDropped, n, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// History returns the most recent successfully sent notifications, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) remember(n Notification) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Kind: n.Kind, Text: n.Text})
	if over := len(s.history) - historyCap; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

func (s *Service) publish(typ string, n Notification, key string, err error) {
	now := time.Now()
	ev := NotificationEvent{Kind: n.Kind, DeliveryID: n.DeliveryID, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}
