package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FlagMLDetection gates the upstream analysis path. Missing means enabled;
// only an explicit false disables it.
const FlagMLDetection = "ml-detection"

const flagRefreshInterval = 30 * time.Second

// FeatureFlags is an immutable snapshot of flag values. Readers get a
// consistent view; refresh swaps the whole snapshot atomically.
type FeatureFlags struct {
	values    map[string]bool
	loadedAt  time.Time
	available bool
}

// Enabled reports whether a flag is on. Flags absent from the snapshot
// default to enabled, so a missing or unreadable flags file never turns a
// feature off by accident.
func (f *FeatureFlags) Enabled(name string) bool {
	if f == nil || !f.available {
		return true
	}
	v, ok := f.values[name]
	if !ok {
		return true
	}
	return v
}

// LoadedAt returns when the snapshot was read. Zero for the built-in default.
func (f *FeatureFlags) LoadedAt() time.Time {
	if f == nil {
		return time.Time{}
	}
	return f.loadedAt
}

// FlagStore serves copy-on-write feature-flag snapshots from a JSON file,
// refreshed by an fsnotify watcher plus a periodic ticker.
type FlagStore struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[FeatureFlags]
	done    chan struct{}
}

// NewFlagStore loads the initial snapshot and starts the refresh loop.
// A missing file is not an error: all flags default to enabled.
func NewFlagStore(path string, logger *zap.Logger) *FlagStore {
	fs := &FlagStore{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	fs.current.Store(fs.load())
	go fs.watch()
	return fs
}

// Snapshot returns the current immutable flag snapshot.
func (fs *FlagStore) Snapshot() *FeatureFlags {
	return fs.current.Load()
}

// Close stops the refresh loop.
func (fs *FlagStore) Close() {
	close(fs.done)
}

func (fs *FlagStore) load() *FeatureFlags {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return &FeatureFlags{available: false}
	}

	var values map[string]bool
	if err := json.Unmarshal(data, &values); err != nil {
		fs.logger.Warn("ignoring malformed feature flags file",
			zap.String("path", fs.path), zap.Error(err))
		return &FeatureFlags{available: false}
	}

	return &FeatureFlags{values: values, loadedAt: time.Now(), available: true}
}

func (fs *FlagStore) watch() {
	ticker := time.NewTicker(flagRefreshInterval)
	defer ticker.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fs.logger.Warn("feature flag watcher unavailable, falling back to polling", zap.Error(err))
	} else {
		defer watcher.Close()
		// Watch the directory: editors replace files rather than rewrite them.
		if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
			fs.logger.Debug("feature flag directory not watchable", zap.Error(err))
		}
	}

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-fs.done:
			return
		case <-ticker.C:
			fs.current.Store(fs.load())
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == fs.path && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				fs.current.Store(fs.load())
				fs.logger.Debug("feature flags reloaded", zap.String("path", fs.path))
			}
		}
	}
}
