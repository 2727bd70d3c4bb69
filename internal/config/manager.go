package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"os"
	"strconv"
	"sync"
	"time"

	"deliveryd/internal/runtime/filewatch"
	logx "deliveryd/pkg/logx"
)

const validateTimeout = 5 * time.Second

// Validator vets a parsed config before it is committed.
type Validator func(ctx context.Context, cfg *Config) error

// ConfigManager owns the committed config for one file and fans out every
// accepted change to its subscribers.
type ConfigManager struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	cfg      *Config
	sum      uint64
	validate Validator

	subMu sync.Mutex
	subs  map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, subs: make(map[chan *Config]struct{})}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log.With(logx.String("comp", "config")) }

// SetValidator installs the hook Load and Reload run before committing.
func (m *ConfigManager) SetValidator(fn Validator) {
	m.mu.Lock()
	m.validate = fn
	m.mu.Unlock()
}

// Parse reads and decodes the file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(m.path, b)
}

// Commit makes cfg current without notifying subscribers.
func (m *ConfigManager) Commit(cfg *Config) {
	sum := checksum(cfg)
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Load parses, validates and commits the file.
func (m *ConfigManager) Load(ctx context.Context) (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := m.check(ctx, cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// Reload re-reads the file and publishes it when its content differs from
// the committed config and passes validation. It reports whether it published.
func (m *ConfigManager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	sum := checksum(cfg)
	m.mu.RLock()
	same := sum != 0 && sum == m.sum
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return false, nil
	}
	if err := m.check(ctx, cfg); err != nil {
		return false, err
	}

	m.Commit(cfg)
	m.broadcast(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("sum", strconv.FormatUint(sum, 16)))
	return true, nil
}

func (m *ConfigManager) check(ctx context.Context, cfg *Config) error {
	m.mu.RLock()
	fn := m.validate
	m.mu.RUnlock()
	if fn == nil {
		return nil
	}
	vctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	return fn(vctx, cfg)
}

// Subscribe returns a channel that receives every published config. A slow
// subscriber loses its oldest pending config, never the newest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// broadcast holds subMu for the whole send so Unsubscribe cannot close a
// channel mid-send.
func (m *ConfigManager) broadcast(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		if trySend(ch, cfg) {
			continue
		}
		select {
		case <-ch:
		default:
		}
		if !trySend(ch, cfg) {
			m.log.Debug("config update dropped", logx.Int("pending", len(ch)), logx.Int("buffer", cap(ch)))
		}
	}
}

func trySend(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}

// Watch reloads on file changes until ctx is done.
func (m *ConfigManager) Watch(ctx context.Context) error {
	return filewatch.Watch(ctx, []string{m.path}, filewatch.Options{Log: m.log}, func() {
		if _, err := m.Reload(ctx); err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		}
	})
}

// checksum fingerprints the decoded config, so formatting-only edits are
// not republished. Zero means unknown.
func checksum(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
