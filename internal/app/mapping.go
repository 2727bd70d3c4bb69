package app

import (
	"strings"
	"time"

	"deliveryd/internal/config"
	"deliveryd/internal/notifier"
	"deliveryd/internal/storage"
	"deliveryd/internal/task/engine"
	"deliveryd/internal/task/scheduler"
	"deliveryd/internal/transport/httpapi"
	logx "deliveryd/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	st, err := config.ParseDurationOrDefault("scheduler.store_timeout", cfg.Scheduler.StoreTimeout, 5*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone), StoreTimeout: st}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg.TaskEngine == nil {
		return engine.Config{}, nil
	}
	te := cfg.TaskEngine
	timeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	base, err := config.ParseDurationField("task_engine.retry_base", te.RetryBase)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
		RetryBase:      base,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := config.DefaultNotifier()
	if cfg.Notifier != nil {
		nc = *cfg.Notifier
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: nc.DedupMaxEntries,
	}, nil
}

// mapStorageConfig reports enabled=false when the section is absent or the
// driver is "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, true, nil
}

func autosaveInterval(cfg *config.Config) (time.Duration, error) {
	raw := ""
	if cfg.Storage != nil {
		raw = cfg.Storage.AutosaveInterval
	}
	return config.ParseDurationOrDefault("storage.autosave_interval", raw, time.Minute)
}

func reapInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("lifecycle.reap_interval", cfg.Lifecycle.ReapInterval, 30*time.Second)
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	rt, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		Token:        strings.TrimSpace(cfg.HTTP.Token),
		ReadTimeout:  rt,
		WriteTimeout: wt,
		Pprof:        cfg.HTTP.Pprof,
	}, nil
}
