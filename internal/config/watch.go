package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// KernelConfigManager holds a live KernelConfig and reloads it from
// disk on change, the same watch-and-reload shape
// internal/memory.MemoryRulesEngine uses for memory_rules.yaml.
// Retrieval callers read Current() on every query, so an edited
// kernel.yaml takes effect without a process restart.
type KernelConfigManager struct {
	mu          sync.RWMutex
	path        string
	current     KernelConfig
	lastModTime time.Time
	stopCh      chan struct{}
	stoppedOnce sync.Once
}

// NewKernelConfigManager loads kernel.yaml from path (or the default
// search path when empty) and starts a background watcher.
func NewKernelConfigManager(path string) *KernelConfigManager {
	m := &KernelConfigManager{path: path, stopCh: make(chan struct{})}
	m.reload()
	go m.watchLoop()
	return m
}

// Current returns the live config. Safe for concurrent use.
func (m *KernelConfigManager) Current() KernelConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reload re-reads kernel.yaml immediately.
func (m *KernelConfigManager) Reload() {
	m.reload()
}

// StopWatcher stops the background watcher. Safe to call multiple times.
func (m *KernelConfigManager) StopWatcher() {
	m.stoppedOnce.Do(func() { close(m.stopCh) })
}

func (m *KernelConfigManager) reload() {
	cfg, err := LoadKernelConfig(m.path)
	if err != nil {
		log.Error().Err(err).Msg("failed to reload kernel.yaml, keeping previous config")
		return
	}
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()

	resolved := resolvePath(m.path, []string{"bartholomew/config/kernel.yaml", "config/kernel.yaml"})
	if resolved == "" {
		return
	}
	if fi, err := os.Stat(resolved); err == nil {
		m.mu.Lock()
		m.lastModTime = fi.ModTime()
		m.mu.Unlock()
	}
}

func (m *KernelConfigManager) checkAndReloadIfNeeded() {
	resolved := resolvePath(m.path, []string{"bartholomew/config/kernel.yaml", "config/kernel.yaml"})
	if resolved == "" {
		return
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return
	}
	m.mu.RLock()
	last := m.lastModTime
	m.mu.RUnlock()
	if last.IsZero() || !fi.ModTime().Equal(last) {
		log.Info().Str("path", resolved).Msg("reloading kernel.yaml")
		m.reload()
	}
}

// watchLoop combines an fsnotify watch with a 10s poll fallback,
// matching MemoryRulesEngine's watcher since both sit on the same
// bind-mount/container-filesystem reliability concerns.
func (m *KernelConfigManager) watchLoop() {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		for _, dir := range []string{"bartholomew/config", "config"} {
			_ = watcher.Add(dir)
		}
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkAndReloadIfNeeded()
		case ev, ok := <-events(watcher):
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				m.checkAndReloadIfNeeded()
			}
		}
	}
}

func events(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}
