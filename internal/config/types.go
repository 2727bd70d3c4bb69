package config

// Config is the process configuration. Delivery definitions live in their own
// files (see CatalogConfig) and are reloaded by the catalog registry.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls the workers that run timer callbacks.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	HTTP      HTTPConfig      `json:"http"`
	Catalog   CatalogConfig   `json:"catalog"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the delivery timers.
type SchedulerConfig struct {
	// Timezone is the IANA zone for definitions without their own.
	// Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
	// StoreTimeout bounds each schedule persistence call (Go duration string).
	StoreTimeout string `json:"store_timeout,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 100
//   - retry_max: 0
//   - retry_base: "500ms"
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings. If the whole section is omitted,
// the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/deliveryd.sqlite" }
//	"storage": { "driver": "postgres", "dsn": "postgres://deliveryd@localhost/deliveryd" }
type StorageConfig struct {
	Driver           string `json:"driver"`
	Path             string `json:"path,omitempty"`
	DSN              string `json:"dsn,omitempty"`               // postgres only (do not log)
	BusyTimeout      string `json:"busy_timeout,omitempty"`      // sqlite only
	AutosaveInterval string `json:"autosave_interval,omitempty"` // default "1m"
}

// HTTPConfig controls the operator API. An empty Addr disables it.
type HTTPConfig struct {
	Addr  string `json:"addr,omitempty"`
	Token string `json:"token,omitempty"` // optional bearer token (do not log)

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`

	// Pprof mounts /debug/pprof behind the token.
	Pprof bool `json:"pprof,omitempty"`
}

// CatalogConfig locates the delivery definition files.
type CatalogConfig struct {
	Deliveries string `json:"deliveries"`
	Categories string `json:"categories"`
	Watch      bool   `json:"watch"`
}

type LifecycleConfig struct {
	// ReapInterval is how often events past their end are ended (default "30s").
	ReapInterval string `json:"reap_interval,omitempty"`
}
