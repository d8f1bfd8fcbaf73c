package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Manifest
		wantErr error
	}{
		{"valid", Manifest{Name: "greeter", Version: "1.0.0", Main: "init.lua"}, nil},
		{"prerelease", Manifest{Name: "greeter", Version: "1.0.0-beta.1", Main: "init.lua"}, nil},
		{"no version", Manifest{Name: "greeter", Main: "init.lua"}, nil},
		{"nested main", Manifest{Name: "greeter", Main: "src/main.lua"}, nil},
		{"missing name", Manifest{Main: "init.lua"}, ErrMissingName},
		{"slash in name", Manifest{Name: "a/b", Main: "init.lua"}, ErrInvalidName},
		{"leading dot", Manifest{Name: ".hidden", Main: "init.lua"}, ErrInvalidName},
		{"bad version", Manifest{Name: "greeter", Version: "one", Main: "init.lua"}, ErrInvalidVersion},
		{"not lua", Manifest{Name: "greeter", Main: "init.py"}, ErrInvalidMain},
		{"escapes dir", Manifest{Name: "greeter", Main: "../other/init.lua"}, ErrInvalidMain},
		{"absolute", Manifest{Name: "greeter", Main: "/etc/init.lua"}, ErrInvalidMain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "greeter")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "plugin.json")
	if err := os.WriteFile(path, []byte(`{"description": "says hi"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Name != "greeter" {
		t.Errorf("Name = %q, want directory name", m.Name)
	}
	if m.Main != "init.lua" {
		t.Errorf("Main = %q, want init.lua", m.Main)
	}
	if m.Version != "0.0.0" {
		t.Errorf("Version = %q, want 0.0.0", m.Version)
	}
	if got, want := m.MainPath(), filepath.Join(dir, "init.lua"); got != want {
		t.Errorf("MainPath = %q, want %q", got, want)
	}
	if got, want := m.ConfigPath(), filepath.Join(dir, "config.json"); got != want {
		t.Errorf("ConfigPath = %q, want %q", got, want)
	}
	if got := m.ModuleName(); got != filepath.Base(filepath.Dir(dir))+".greeter." {
		t.Errorf("ModuleName = %q", got)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadManifest(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"name":`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(bad); err == nil {
		t.Error("expected parse error")
	}

	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"name": "x", "main": "../x.lua"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(invalid); !errors.Is(err, ErrInvalidMain) {
		t.Errorf("LoadManifest = %v, want ErrInvalidMain", err)
	}
}

func TestSingleFileManifest(t *testing.T) {
	m := NewSingleFileManifest(filepath.Join("srv", "lua_plugins", "motd.lua"))

	if m.Name != "motd" || !m.SingleFile() {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if got, want := m.ConfigPath(), filepath.Join("srv", "lua_plugins", "motd.config.json"); got != want {
		t.Errorf("ConfigPath = %q, want %q", got, want)
	}
	if got, want := m.MainPath(), filepath.Join("srv", "lua_plugins", "motd.lua"); got != want {
		t.Errorf("MainPath = %q, want %q", got, want)
	}
	if got := m.ModuleName(); got != "lua_plugins.motd" {
		t.Errorf("ModuleName = %q", got)
	}
	if got := m.String(); got != "motd v0.0.0" {
		t.Errorf("String = %q", got)
	}
}
