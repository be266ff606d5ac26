package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Manager holds the current configuration and reloads it when the file changes.
// Invalid edits are logged and ignored; the previous config stays active.
type Manager struct {
	v       *viper.Viper
	current atomic.Pointer[Config]
	logger  atomic.Pointer[zap.Logger]

	mu       sync.Mutex
	handlers []func(*Config)
}

// NewManager loads the configuration once
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	m := &Manager{v: v}
	m.logger.Store(logger)
	m.current.Store(cfg)
	return m, nil
}

// SetLogger swaps the logger used for reload messages. A nil logger is ignored.
func (m *Manager) SetLogger(logger *zap.Logger) {
	if logger != nil {
		m.logger.Store(logger)
	}
}

// Current returns the active configuration
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// OnChange registers a handler invoked after each successful reload
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Watch starts hot reload. It is a no-op when no config file was found.
func (m *Manager) Watch() {
	if m.v.ConfigFileUsed() == "" {
		m.logger.Load().Info("No config file in use, hot reload disabled")
		return
	}
	m.v.OnConfigChange(m.handleEvent)
	m.v.WatchConfig()
	m.logger.Load().Info("Watching config file", zap.String("path", m.v.ConfigFileUsed()))
}

func (m *Manager) handleEvent(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	m.reload(e.Name)
}

func (m *Manager) reload(source string) {
	cfg, err := decode(m.v)
	if err != nil {
		m.logger.Load().Warn("Config reload rejected, keeping previous config",
			zap.String("file", source),
			zap.Error(err),
		)
		return
	}
	m.current.Store(cfg)
	m.logger.Load().Info("Config reloaded",
		zap.String("file", source),
		zap.Int("initial_query_count", cfg.Research.InitialQueryCount),
		zap.Int("max_rounds", cfg.Research.MaxRounds),
	)

	m.mu.Lock()
	handlers := append([]func(*Config){}, m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(cfg)
	}
}
