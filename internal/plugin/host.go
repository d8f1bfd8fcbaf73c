package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/mcwrap/internal/logging"
	plua "github.com/dshills/mcwrap/internal/plugin/lua"
	"github.com/dshills/mcwrap/internal/plugin/settings"
	"github.com/dshills/mcwrap/internal/trigger"
)

// Callback is the trigger.Handle given to the registry for a Lua function.
type Callback struct {
	host *Host
	fn   *lua.LFunction
}

// Plugin returns the name of the plugin that owns the callback.
func (c *Callback) Plugin() string {
	return c.host.name
}

// Host manages a single plugin's Lua state and lifecycle.
type Host struct {
	mu sync.RWMutex

	// Identity
	name     string
	manifest *Manifest

	// Lua runtime
	state  *plua.State
	bridge *plua.Bridge

	// State
	pluginState State
	err         error

	// Collaborators
	registry *trigger.Registry
	settings *settings.Store
	log      *logging.Logger

	// Options
	executionTimeout time.Duration
	searchPaths      []string

	// inCallback is set while a trigger callback runs, when the registry
	// lock is held and registrations must be deferred.
	inCallback atomic.Bool

	triggers atomic.Int32
	hooks    atomic.Int32
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostExecutionTimeout bounds each call into the plugin. Zero means no bound.
func WithHostExecutionTimeout(d time.Duration) HostOption {
	return func(h *Host) {
		h.executionTimeout = d
	}
}

// WithHostLogger sets the logger; the plugin name is added as a field.
func WithHostLogger(l *logging.Logger) HostOption {
	return func(h *Host) {
		h.log = l
	}
}

// WithHostSettings sets the store behind load_config, config_get and config_set.
func WithHostSettings(s *settings.Store) HostOption {
	return func(h *Host) {
		h.settings = s
	}
}

// WithHostSearchPath adds a directory require searches after the plugin's own.
func WithHostSearchPath(dir string) HostOption {
	return func(h *Host) {
		h.searchPaths = append(h.searchPaths, dir)
	}
}

// NewHost creates a host for the plugin described by manifest. Its triggers
// and hooks are registered in reg.
func NewHost(manifest *Manifest, reg *trigger.Registry, opts ...HostOption) (*Host, error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}

	h := &Host{
		name:        manifest.Name,
		manifest:    manifest,
		pluginState: StateUnloaded,
		registry:    reg,
		log:         logging.Discard,
	}

	for _, opt := range opts {
		opt(h)
	}

	h.log = h.log.WithPlugin(h.name)
	if h.settings == nil {
		h.settings = settings.New(manifest.ConfigPath(), settings.WithLogger(h.log))
	}

	return h, nil
}

// Name returns the plugin name.
func (h *Host) Name() string {
	return h.name
}

// Manifest returns the plugin manifest.
func (h *Host) Manifest() *Manifest {
	return h.manifest
}

// Settings returns the plugin's config store.
func (h *Host) Settings() *settings.Store {
	return h.settings
}

// State returns the current plugin state.
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pluginState
}

// Error returns the load error, if any.
func (h *Host) Error() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Load creates the plugin's Lua state, installs the plugin API and runs the
// entry file, which registers the plugin's triggers and hooks.
func (h *Host) Load(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pluginState != StateUnloaded {
		return ErrAlreadyLoaded
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := []plua.StateOption{
		plua.WithExecutionTimeout(h.executionTimeout),
		plua.WithSearchPath(h.manifest.Path()),
	}
	if !h.manifest.SingleFile() {
		// Lets plugins require("lua_plugins.<name>.module") from the
		// directory above the plugins directory.
		opts = append(opts, plua.WithSearchPath(filepath.Dir(filepath.Dir(h.manifest.Path()))))
	}
	for _, dir := range h.searchPaths {
		opts = append(opts, plua.WithSearchPath(dir))
	}

	state, err := plua.NewState(opts...)
	if err != nil {
		h.pluginState = StateError
		h.err = err
		return err
	}

	h.state = state
	h.bridge = plua.NewBridge(state.LuaState())
	h.installAPI()
	h.pluginState = StateLoading

	if err := h.state.RunFile(h.manifest.MainPath(), lua.LString(h.manifest.ModuleName())); err != nil {
		h.state.Close()
		h.state = nil
		h.bridge = nil
		h.pluginState = StateError
		h.err = fmt.Errorf("load plugin %s: %w", h.name, err)
		return h.err
	}

	h.pluginState = StateLoaded
	h.err = nil
	h.log.Debug("loaded %s (%d triggers, %d hooks)", h.manifest.MainPath(), h.triggers.Load(), h.hooks.Load())
	return nil
}

// Invoke calls a trigger callback with the line and its capture groups as
// string arguments and converts its return value into commands.
func (h *Host) Invoke(cb *Callback, args []string) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.state == nil {
		return nil, ErrNotLoaded
	}

	h.inCallback.Store(true)
	defer h.inCallback.Store(false)

	results, err := h.state.CallFunction(cb.fn, plua.StringArgs(args)...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return h.bridge.ToCommands(results[0])
}

// InvokeHook calls a lifecycle hook with no arguments. Return values are ignored.
func (h *Host) InvokeHook(cb *Callback) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.state == nil {
		return ErrNotLoaded
	}

	_, err := h.state.CallFunction(cb.fn)
	return err
}

// Unload closes the Lua state. Triggers already in the registry stay there
// and fail with ErrNotLoaded when invoked.
func (h *Host) Unload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != nil {
		h.state.Close()
		h.state = nil
	}

	h.bridge = nil
	h.pluginState = StateUnloaded
	h.err = nil
	return nil
}

// Stats returns runtime statistics for the plugin.
func (h *Host) Stats() HostStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HostStats{
		Name:     h.name,
		Version:  h.manifest.Version,
		State:    h.pluginState,
		Triggers: int(h.triggers.Load()),
		Hooks:    int(h.hooks.Load()),
		HasError: h.err != nil,
	}
}

// HostStats contains runtime statistics for a plugin host.
type HostStats struct {
	Name     string
	Version  string
	State    State
	Triggers int
	Hooks    int
	HasError bool
}
