package manifest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Registry publishes the current manifest snapshot. Reads are
// lock-free; a reload atomically replaces the whole snapshot, and an
// invalid reload never displaces the last-known-good one.
type Registry struct {
	snapshot atomic.Pointer[Manifest]
	path     string
	watcher  *fsnotify.Watcher
	onChange []func(*Manifest)
	logger   *slog.Logger
}

// NewRegistry creates a registry over an already-validated manifest.
func NewRegistry(m *Manifest, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.snapshot.Store(m)
	return r
}

// NewRegistryFromFile loads path and creates a registry bound to it,
// enabling Watch.
func NewRegistryFromFile(path string, logger *slog.Logger) (*Registry, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	r := NewRegistry(m, logger)
	r.path = path
	return r, nil
}

// Manifest returns the current snapshot.
func (r *Registry) Manifest() *Manifest {
	return r.snapshot.Load()
}

// Provider resolves a provider definition by id.
func (r *Registry) Provider(id string) (*ProviderDefinition, bool) {
	p, ok := r.Manifest().Providers[id]
	return p, ok
}

// Model resolves a model definition by id.
func (r *Registry) Model(id string) (*ModelDefinition, bool) {
	m, ok := r.Manifest().Models[id]
	return m, ok
}

// OnChange registers a callback invoked after every successful reload.
// Register before calling Watch.
func (r *Registry) OnChange(fn func(*Manifest)) {
	r.onChange = append(r.onChange, fn)
}

// watchDebounce coalesces editor write bursts into one reload.
const watchDebounce = 100 * time.Millisecond

// Watch observes the manifest file for changes and hot-reloads it.
// Reloads that fail validation are logged and discarded.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.path); err != nil {
		_ = watcher.Close()
		return err
	}
	r.watcher = watcher

	go r.watchLoop(ctx)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context) {
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			_ = r.watcher.Close()
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("manifest watcher error", "error", err)
		}
	}
}

func (r *Registry) reload() {
	m, err := Load(r.path)
	if err != nil {
		r.logger.Error("manifest reload failed, keeping current snapshot",
			"path", r.path, "error", err)
		return
	}

	r.snapshot.Store(m)
	r.logger.Info("manifest reloaded",
		"path", r.path,
		"providers", len(m.Providers),
		"models", len(m.Models))

	for _, fn := range r.onChange {
		fn(m)
	}
}

// Close stops the watcher if one is running.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
