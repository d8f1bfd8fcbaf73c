package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Manifest describes a plugin's identity and entry point.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Author      string `json:"author"`

	// Main is the entry file relative to the plugin directory (default: "init.lua").
	Main string `json:"main"`

	// path is the plugin directory, or the plugins directory for a
	// single-file plugin.
	path       string
	singleFile bool
}

// Validation errors.
var (
	ErrMissingName    = errors.New("manifest: name is required")
	ErrInvalidName    = errors.New("manifest: name must be letters, digits, '.', '_' or '-'")
	ErrInvalidVersion = errors.New("manifest: version must be valid semver")
	ErrInvalidMain    = errors.New("manifest: main must be a .lua file inside the plugin directory")
)

// namePattern validates plugin names. Names become log fields and parts of
// file names, so path separators are excluded.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a plugin manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	m.path = filepath.Dir(path)
	if m.Name == "" {
		m.Name = filepath.Base(m.path)
	}
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewManifestMinimal creates a manifest for a plugin directory without
// plugin.json.
func NewManifestMinimal(name, dir string) *Manifest {
	return &Manifest{
		Name:    name,
		Version: "0.0.0",
		Main:    "init.lua",
		path:    dir,
	}
}

// NewSingleFileManifest creates a manifest for a plugin that is a single
// file directly inside the plugins directory.
func NewSingleFileManifest(luaPath string) *Manifest {
	return &Manifest{
		Name:       strings.TrimSuffix(filepath.Base(luaPath), ".lua"),
		Version:    "0.0.0",
		Main:       filepath.Base(luaPath),
		path:       filepath.Dir(luaPath),
		singleFile: true,
	}
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = "init.lua"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
}

// Validate checks that the manifest is valid.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}

	if m.Version != "" && !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	main := filepath.Clean(m.Main)
	if filepath.Ext(main) != ".lua" || filepath.IsAbs(main) || strings.HasPrefix(main, "..") {
		return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}

	return nil
}

// Path returns the directory the plugin's files live in.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path to the main Lua file.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// SingleFile reports whether the plugin is a lone .lua file.
func (m *Manifest) SingleFile() bool {
	return m.singleFile
}

// ConfigPath returns where the plugin's JSON config lives:
// <plugin dir>/config.json, or <plugins dir>/<name>.config.json for a
// single-file plugin.
func (m *Manifest) ConfigPath() string {
	if m.singleFile {
		return filepath.Join(m.path, m.Name+".config.json")
	}
	return filepath.Join(m.path, "config.json")
}

// ModuleName returns the dotted module name the entry chunk receives as
// its first vararg, e.g. "lua_plugins.greeter.".
func (m *Manifest) ModuleName() string {
	if m.singleFile {
		return filepath.Base(m.path) + "." + m.Name
	}
	return filepath.Base(filepath.Dir(m.path)) + "." + filepath.Base(m.path) + "."
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}
