package scheduler

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "deliveryd/pkg/logx"
)

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithStore persists retained infos.
func WithStore(st InfoStore) Option { return func(s *Service) { s.store = st } }

// WithLookup sets the definition lookup used by recurrence and resumption.
func WithLookup(f Lookup) Option { return func(s *Service) { s.find = f } }

func New(cfg Config, exec Executor, log logx.Logger, opts ...Option) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	s := &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "scheduler")),
		clock:   realClock{},
		exec:    exec,
		timers:  map[timerKey]Timer{},
		due:     map[timerKey]time.Time{},
		vers:    map[timerKey]uint64{},
		infos:   map[string]Info{},
		plans:   map[string]plan{},
		enqWarn: map[string]*rate.Sometimes{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocation()
	return s
}

// SetHooks installs the start and end actions. Call before Start.
func (s *Service) SetHooks(h Hooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

// Location is the default zone for definitions without their own.
func (s *Service) Location() *time.Location { return s.loc }

// Start loads retained infos from the store. Timers are armed by
// ResumeActiveEvents and ScheduleEvent.
func (s *Service) Start(ctx context.Context) error {
	if s.store == nil {
		s.log.Info("service started", logx.String("tz", s.loc.String()))
		return nil
	}
	infos, err := s.store.LoadScheduleInfos(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, in := range infos {
		if in.ID == "" {
			continue
		}
		s.infos[in.ID] = in
	}
	n := len(s.infos)
	s.mu.Unlock()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("retained", n))
	return nil
}

// Stop stops every runtime timer. Retained infos stay in the store so the
// next Start can resume.
func (s *Service) Stop(context.Context) {
	s.mu.Lock()
	for k, t := range s.timers {
		t.Stop()
		s.vers[k]++
	}
	s.timers = map[timerKey]Timer{}
	s.due = map[timerKey]time.Time{}
	s.mu.Unlock()
	s.log.Info("service stopped")
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) zone(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return s.loc
	}
	return loc
}

func (s *Service) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
}

func (s *Service) persist(in Info) {
	if s.store == nil {
		return
	}
	ctx, cancel := s.storeCtx()
	defer cancel()
	if err := s.store.SaveScheduleInfo(ctx, in); err != nil {
		s.log.Warn("save schedule info failed", logx.String("id", in.ID), logx.Err(err))
	}
}

func (s *Service) forget(id string) {
	if s.store == nil {
		return
	}
	ctx, cancel := s.storeCtx()
	defer cancel()
	if err := s.store.DeleteScheduleInfo(ctx, id); err != nil {
		s.log.Warn("delete schedule info failed", logx.String("id", id), logx.Err(err))
	}
}
