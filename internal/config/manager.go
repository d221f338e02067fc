// Package config loads, validates and (in watch mode) hot-reloads the
// rankwatch configuration file. YAML and JSON are both accepted; YAML is
// coerced to JSON so one strict decoder covers both.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

type Manager struct {
	path string
	log  zerolog.Logger

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64
}

func NewManager(path string, log zerolog.Logger) *Manager {
	return &Manager{path: path, log: log}
}

// SetLogger swaps the manager's logger. Used once at startup: the manager
// has to exist before logging does, because the log config lives in the file
// it loads.
func (m *Manager) SetLogger(log zerolog.Logger) {
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

// Parse reads and strictly decodes the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// Reject trailing tokens (e.g. concatenated JSON documents).
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load parses and commits the file; call once at startup.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

// Get returns the last committed config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Watch re-parses the file on change and commits valid new content; the
// next run cycle picks it up through Get. Invalid content is rejected with
// a warning and the running config stays in place. Blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	// Watch the directory, not the file: editors rename over the target,
	// which would silently kill a file-level watch.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("config watch add: %w", err)
	}

	// Debounce so a burst of write events (or a partial write) triggers one
	// reload of the settled file.
	var timerMu sync.Mutex
	var timer *time.Timer
	reload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, m.reloadOnce)
	}

	target := filepath.Clean(m.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (m *Manager) reloadOnce() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn().Err(err).Str("path", m.path).Msg("config reload rejected")
		return
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		return
	}

	m.commit(cfg)
	m.log.Info().Str("path", m.path).Msg("config reloaded")
}
