package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"deliveryd/internal/catalog"
	"deliveryd/internal/config"
	"deliveryd/internal/delivery"
	"deliveryd/internal/eventbus"
	"deliveryd/internal/lifecycle"
	"deliveryd/internal/notifier"
	"deliveryd/internal/runtime/supervisor"
	"deliveryd/internal/selection"
	"deliveryd/internal/storage"
	"deliveryd/internal/task/engine"
	"deliveryd/internal/task/scheduler"
	"deliveryd/internal/transport/httpapi"
	logx "deliveryd/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	catalog *catalog.Registry
	loader  catalog.FileLoader
	engine  *engine.Service
	sched   *scheduler.Service
	life    *lifecycle.Manager
	notif   *notifier.Service
	http    *httpapi.Server

	autosave time.Duration
	reap     time.Duration
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	sink    notifier.Sink
	sources *selection.Sources
	names   lifecycle.NameResolver
}

// WithSink replaces the default log sink of the notifier.
func WithSink(s notifier.Sink) Option { return func(o *options) { o.sink = s } }

// WithSources replaces the default item sources.
func WithSources(s *selection.Sources) Option { return func(o *options) { o.sources = s } }

// WithNames resolves winner display names when an event ends.
func WithNames(f lifecycle.NameResolver) Option { return func(o *options) { o.names = f } }

// NewApp loads the process config and wires every component. Nothing runs
// until Start.
func NewApp(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.sources == nil {
		o.sources = selection.DefaultSources()
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return config.Validate(cfg) })
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(ctx, sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	reg := catalog.NewRegistry(o.sources, log)
	loader := catalog.FileLoader{
		DeliveriesPath: resolvePath(cfgPath, cfg.Catalog.Deliveries),
		CategoriesPath: resolvePath(cfgPath, cfg.Catalog.Categories),
	}
	if loader.CategoriesPath == "" {
		loader.CategoriesPath = filepath.Join(filepath.Dir(loader.DeliveriesPath), delivery.CategoriesFile)
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, log, bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedOpts := []scheduler.Option{scheduler.WithLookup(reg.Definition)}
	if store != nil {
		schedOpts = append(schedOpts, scheduler.WithStore(scheduleStore{st: store}))
	}
	schedSvc := scheduler.New(schedCfg, engineSvc, log, schedOpts...)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, o.sink, log, bus)

	lifeOpts := []lifecycle.Option{
		lifecycle.WithTimers(schedSvc),
		lifecycle.WithNotifier(notifSvc),
		lifecycle.WithBus(bus),
		lifecycle.WithLocation(schedSvc.Location()),
	}
	if o.names != nil {
		lifeOpts = append(lifeOpts, lifecycle.WithNames(o.names))
	}
	life := lifecycle.New(reg, log, lifeOpts...)
	schedSvc.SetHooks(scheduler.Hooks{
		OnStart: func(_ context.Context, id string) error {
			_, err := life.StartEvent(id, false)
			if errors.Is(err, lifecycle.ErrAlreadyActive) {
				return nil
			}
			return err
		},
		OnEnd: func(_ context.Context, id string) error {
			life.EndEvent(id)
			return nil
		},
	})

	autosave, err := autosaveInterval(cfg)
	if err != nil {
		return nil, err
	}
	reap, err := reapInterval(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		catalog:  reg,
		loader:   loader,
		engine:   engineSvc,
		sched:    schedSvc,
		life:     life,
		notif:    notifSvc,
		autosave: autosave,
		reap:     reap,
	}

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	if hc.Addr != "" {
		deps := httpapi.Deps{
			Lifecycle:     life,
			Catalog:       reg,
			Schedules:     schedSvc,
			Notifications: notifSvc,
			Engine:        engineSvc,
			Supervisor:    supervisorView{a},
			Reload:        a.reloadCatalog,
		}
		if store != nil {
			deps.Results = store
		}
		a.http = httpapi.New(hc, deps, log)
	}
	return a, nil
}

// supervisorView reads the supervisor that Start creates; before Start it
// reports an empty snapshot.
type supervisorView struct{ a *App }

func (v supervisorView) Snapshot() supervisor.Snapshot { return v.a.sup.Snapshot() }

// resolvePath makes a catalog path relative to the config file directory.
func resolvePath(cfgPath, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(cfgPath), p)
}

func (a *App) Lifecycle() *lifecycle.Manager { return a.life }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Catalog() *catalog.Registry    { return a.catalog }
func (a *App) Notifier() *notifier.Service   { return a.notif }
func (a *App) Config() *config.ConfigManager { return a.cfgm }
func (a *App) Store() storage.Store          { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads the catalog, restores saved events, arms the timers and starts
// the background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	res := a.catalog.ReloadWithResult(run, a.loader)
	logFindings(a.log, res.Errors)
	if !res.Success {
		return fmt.Errorf("catalog load failed: %d critical finding(s)", catalog.Count(res.Errors, catalog.SeverityCritical))
	}

	a.engine.Start(run)
	if a.notif.Enabled() {
		a.notif.Start(run)
	}

	// Results and autosave subscribe before anything can end.
	a.startResultSink()

	if err := a.sched.Start(run); err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}
	restored := a.restoreActiveEvents(run)
	resumed := a.sched.ResumeActiveEvents()
	for id, end := range restored {
		// Resumption re-arms from the retained window; the saved end wins.
		a.sched.ScheduleEnd(id, end)
	}
	// Attempted resumes already own their timers, failed or not.
	a.scheduleAll(a.catalog.Definitions(), resumed.Attempted())
	a.catalog.OnCommit(a.onCatalogCommit)
	a.log.Info("deliveries armed",
		logx.Int("definitions", len(a.catalog.Definitions())),
		logx.Int("restored", len(restored)),
		logx.Int("resumed", len(resumed.Resumed)),
		logx.Int("resume_failed", len(resumed.Failed)),
	)

	a.sup.GoRestart("lifecycle.reaper", func(c context.Context) error {
		return a.life.RunReaper(c, a.reap)
	})
	if a.store != nil {
		a.sup.Go0("storage.autosave", a.autosaveLoop)
	}

	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	if a.cfgm.Get().Catalog.Watch {
		a.sup.Go("catalog.watch", func(c context.Context) error {
			return a.catalog.Watch(c, a.loader)
		})
	}
	if a.http != nil {
		a.sup.Go("http.api", a.http.Run)
	}

	a.log.Info("app started")
	return nil
}

func (a *App) reloadCatalog(ctx context.Context) catalog.Result {
	res := a.catalog.ReloadWithResult(ctx, a.loader)
	logFindings(a.log, res.Errors)
	return res
}

func logFindings(log logx.Logger, errs []catalog.ValidationError) {
	for _, e := range errs {
		fields := []logx.Field{
			logx.String("source", e.Source),
			logx.String("path", e.Path),
			logx.String("msg", e.Message),
		}
		if e.Severity == catalog.SeverityWarning {
			log.Warn("catalog warning", fields...)
		} else {
			log.Error("catalog "+strings.ToLower(string(e.Severity)), fields...)
		}
	}
}

// scheduleAll arms every enabled schedulable definition that has no active
// event and is not in skip. Active events keep their end timer; EndEvent
// re-arms the next cycle.
func (a *App) scheduleAll(defs map[string]delivery.Definition, skip map[string]bool) {
	for _, id := range delivery.SortedIDs(defs) {
		if skip[id] {
			continue
		}
		a.scheduleDefinition(defs[id])
	}
}

func (a *App) scheduleDefinition(def delivery.Definition) {
	if _, active := a.life.ActiveEvent(def.ID); active {
		return
	}
	if !def.Enabled || !def.Schedulable() {
		a.sched.CancelScheduledEvent(def.ID)
		return
	}
	// Failures are logged by the scheduler.
	_ = a.sched.ScheduleEvent(def)
}

func (a *App) onCatalogCommit(prev, next *catalog.Snapshot) {
	for id := range prev.Definitions {
		if _, ok := next.Definitions[id]; !ok {
			a.sched.CancelScheduledEvent(id)
			a.log.Info("delivery removed", logx.String("id", id))
		}
	}
	changed := map[string]delivery.Definition{}
	for id, def := range next.Definitions {
		if old, ok := prev.Definitions[id]; ok && definitionEqual(old, def) {
			continue
		}
		changed[id] = def
	}
	a.scheduleAll(changed, nil)
	if len(changed) > 0 {
		a.log.Info("deliveries rescheduled", logx.Int("count", len(changed)))
	}
}

// Stop cancels the run context and shuts components down in reverse order,
// bounding each step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("autosave", 3*time.Second, a.saveActiveEvents)
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 6*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
