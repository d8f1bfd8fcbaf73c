package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPluginDir is the plugins directory used when none is configured.
const DefaultPluginDir = "lua_plugins"

// Loader discovers plugins on the filesystem.
type Loader struct {
	// Search paths for plugins (checked in order)
	paths []string

	// Discovered plugins cache
	discovered map[string]*PluginInfo
}

// PluginInfo contains discovery information about a plugin.
type PluginInfo struct {
	Name     string
	Path     string
	Manifest *Manifest
	State    State
	Error    error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a new plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      []string{DefaultPluginDir},
		discovered: make(map[string]*PluginInfo),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// Discover finds all plugins in the search paths and returns them sorted
// by name. Plugins with a broken layout are returned with Error set.
// A missing search path is not an error.
func (l *Loader) Discover() ([]*PluginInfo, error) {
	l.discovered = make(map[string]*PluginInfo)

	for _, basePath := range l.paths {
		if err := l.discoverInPath(basePath); err != nil {
			return nil, fmt.Errorf("scan %s: %w", basePath, err)
		}
	}

	plugins := make([]*PluginInfo, 0, len(l.discovered))
	for _, info := range l.discovered {
		plugins = append(plugins, info)
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})

	return plugins, nil
}

// discoverInPath finds plugins in a single directory.
func (l *Loader) discoverInPath(basePath string) error {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || strings.HasPrefix(entry.Name(), "_") {
			continue
		}

		if !entry.IsDir() {
			if filepath.Ext(entry.Name()) == ".lua" {
				l.addSingleFilePlugin(filepath.Join(basePath, entry.Name()))
			}
			continue
		}

		info := l.inspectPlugin(entry.Name(), filepath.Join(basePath, entry.Name()))

		// First discovery wins
		if _, exists := l.discovered[info.Name]; !exists {
			l.discovered[info.Name] = info
		}
	}

	return nil
}

// addSingleFilePlugin adds a single-file plugin.
func (l *Loader) addSingleFilePlugin(luaPath string) {
	manifest := NewSingleFileManifest(luaPath)
	if _, exists := l.discovered[manifest.Name]; exists {
		return
	}

	info := &PluginInfo{
		Name:     manifest.Name,
		Path:     luaPath,
		Manifest: manifest,
		State:    StateUnloaded,
	}
	if err := manifest.Validate(); err != nil {
		info.Error = err
		info.State = StateError
	}
	l.discovered[manifest.Name] = info
}

// inspectPlugin examines a plugin directory and returns its info.
func (l *Loader) inspectPlugin(name, path string) *PluginInfo {
	info := &PluginInfo{
		Name:  name,
		Path:  path,
		State: StateUnloaded,
	}

	manifestPath := filepath.Join(path, "plugin.json")
	if _, err := os.Stat(manifestPath); err == nil {
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			info.Error = fmt.Errorf("invalid manifest: %w", err)
			info.State = StateError
			return info
		}
		if _, err := os.Stat(manifest.MainPath()); err != nil {
			info.Error = fmt.Errorf("%w: %s", ErrNoEntryPoint, manifest.Main)
			info.State = StateError
			return info
		}
		info.Manifest = manifest
		info.Name = manifest.Name
		return info
	}

	for _, entry := range []string{"init.lua", "plugin.lua"} {
		if _, err := os.Stat(filepath.Join(path, entry)); err == nil {
			manifest := NewManifestMinimal(name, path)
			manifest.Main = entry
			if err := manifest.Validate(); err != nil {
				info.Error = err
				info.State = StateError
				return info
			}
			info.Manifest = manifest
			return info
		}
	}

	info.Error = ErrNoEntryPoint
	info.State = StateError
	return info
}

// Get returns info for a specific plugin by name from the last Discover.
func (l *Loader) Get(name string) (*PluginInfo, bool) {
	info, ok := l.discovered[name]
	return info, ok
}

// FindPlugin returns a discovered plugin by name.
func (l *Loader) FindPlugin(name string) (*PluginInfo, error) {
	if info, ok := l.discovered[name]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
}

// ListNames returns the names of all discovered plugins.
func (l *Loader) ListNames() []string {
	names := make([]string, 0, len(l.discovered))
	for name := range l.discovered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of discovered plugins.
func (l *Loader) Count() int {
	return len(l.discovered)
}

// Errors returns all plugins that have errors.
func (l *Loader) Errors() []*PluginInfo {
	var errored []*PluginInfo
	for _, info := range l.discovered {
		if info.Error != nil {
			errored = append(errored, info)
		}
	}
	sort.Slice(errored, func(i, j int) bool {
		return errored[i].Name < errored[j].Name
	})
	return errored
}
