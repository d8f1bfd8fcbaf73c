package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/mcwrap/internal/logging"
	"github.com/dshills/mcwrap/internal/plugin/settings"
	"github.com/dshills/mcwrap/internal/trigger"
)

// Runtime owns every loaded plugin and calls into them on behalf of the
// trigger registry. It implements trigger.Invoker.
type Runtime struct {
	mu sync.RWMutex

	loader   *Loader
	registry *trigger.Registry

	// Loaded plugins by name
	plugins map[string]*Host

	// Plugin load order (for deterministic iteration)
	loadOrder []string

	// Plugins that failed discovery or loading
	failed []*PluginInfo

	config  RuntimeConfig
	watcher *settings.Watcher
	log     *logging.Logger
}

var _ trigger.Invoker = (*Runtime)(nil)

// RuntimeConfig configures the plugin runtime.
type RuntimeConfig struct {
	// PluginPaths are directories to search for plugins
	PluginPaths []string

	// CallbackTimeout bounds each call into a plugin (0 = unbounded)
	CallbackTimeout time.Duration
}

// DefaultRuntimeConfig returns the default configuration.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		PluginPaths: []string{DefaultPluginDir},
	}
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the runtime's logger.
func WithLogger(l *logging.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.log = l
	}
}

// WithConfigWatcher makes every loaded plugin's config store follow edits
// made on disk.
func WithConfigWatcher(w *settings.Watcher) RuntimeOption {
	return func(r *Runtime) {
		r.watcher = w
	}
}

// NewRuntime creates a runtime whose plugins register into reg.
func NewRuntime(reg *trigger.Registry, config RuntimeConfig, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		loader:    NewLoader(WithPaths(config.PluginPaths...)),
		registry:  reg,
		plugins:   make(map[string]*Host),
		loadOrder: make([]string, 0),
		config:    config,
		log:       logging.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadAll discovers and loads every plugin, in name order. A plugin that
// fails is logged and skipped; the others still load. The returned error
// joins the individual failures and is nil when all plugins loaded.
func (r *Runtime) LoadAll(ctx context.Context) error {
	infos, err := r.loader.Discover()
	if err != nil {
		return err
	}

	var loadErrors []error
	for _, info := range infos {
		if info.Error != nil {
			r.recordFailure(info, info.Error)
			loadErrors = append(loadErrors, fmt.Errorf("%s: %w", info.Name, info.Error))
			continue
		}
		if _, err := r.load(ctx, info); err != nil {
			r.recordFailure(info, err)
			loadErrors = append(loadErrors, err)
		}
	}

	return errors.Join(loadErrors...)
}

// Load loads one discovered plugin by name.
func (r *Runtime) Load(ctx context.Context, name string) (*Host, error) {
	info, err := r.loader.FindPlugin(name)
	if err != nil {
		return nil, err
	}
	if info.Error != nil {
		return nil, fmt.Errorf("plugin %q: %w", name, info.Error)
	}
	return r.load(ctx, info)
}

func (r *Runtime) load(ctx context.Context, info *PluginInfo) (*Host, error) {
	name := info.Name

	r.mu.Lock()
	if _, exists := r.plugins[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("plugin %q: %w", name, ErrAlreadyLoaded)
	}
	r.mu.Unlock()

	host, err := NewHost(info.Manifest, r.registry,
		WithHostLogger(r.log),
		WithHostExecutionTimeout(r.config.CallbackTimeout),
	)
	if err != nil {
		return nil, err
	}

	if err := host.Load(ctx); err != nil {
		// The state is gone; whatever the entry file registered before
		// failing could never run.
		if n := r.registry.Unregister(name); n > 0 {
			r.log.WithPlugin(name).Debug("dropped %d registrations of failed plugin", n)
		}
		return nil, err
	}
	info.State = host.State()

	if r.watcher != nil {
		if err := r.watcher.Add(host.Settings()); err != nil {
			r.log.WithPlugin(name).Warn("config changes will not be picked up: %v", err)
		}
	}

	r.mu.Lock()
	r.plugins[name] = host
	r.loadOrder = append(r.loadOrder, name)
	r.mu.Unlock()

	stats := host.Stats()
	r.log.WithPlugin(name).Info("loaded plugin %s (%d triggers)", info.Manifest, stats.Triggers)
	return host, nil
}

func (r *Runtime) recordFailure(info *PluginInfo, err error) {
	info.State = StateError
	info.Error = err
	r.log.WithPlugin(info.Name).WithError(err).Error("skipping plugin")

	r.mu.Lock()
	r.failed = append(r.failed, info)
	r.mu.Unlock()
}

// Invoke implements trigger.Invoker.
func (r *Runtime) Invoke(h trigger.Handle, args []string) ([]string, error) {
	cb, ok := h.(*Callback)
	if !ok || cb == nil {
		return nil, ErrForeignHandle
	}
	return cb.host.Invoke(cb, args)
}

// InvokeHook implements trigger.Invoker.
func (r *Runtime) InvokeHook(h trigger.Handle) error {
	cb, ok := h.(*Callback)
	if !ok || cb == nil {
		return ErrForeignHandle
	}
	return cb.host.InvokeHook(cb)
}

// Get returns a loaded plugin by name.
func (r *Runtime) Get(name string) (*Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.plugins[name]
	return h, ok
}

// List returns loaded plugins in load order.
func (r *Runtime) List() []*Host {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hosts := make([]*Host, 0, len(r.loadOrder))
	for _, name := range r.loadOrder {
		if h, ok := r.plugins[name]; ok {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Count returns the number of loaded plugins.
func (r *Runtime) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Failed returns the plugins that could not be loaded.
func (r *Runtime) Failed() []*PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*PluginInfo(nil), r.failed...)
}

// UnloadAll closes every plugin's Lua state in reverse load order.
func (r *Runtime) UnloadAll(ctx context.Context) error {
	r.mu.Lock()
	order := append([]string(nil), r.loadOrder...)
	hosts := r.plugins
	r.plugins = make(map[string]*Host)
	r.loadOrder = r.loadOrder[:0]
	r.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if h, ok := hosts[order[i]]; ok {
			if err := h.Unload(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", order[i], err))
			}
		}
	}
	return errors.Join(errs...)
}
