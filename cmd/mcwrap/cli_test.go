package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var code int
	var out bytes.Buffer
	cliApp := newCLI(&code)
	cliApp.Writer = &out
	cliApp.ErrWriter = &out
	err := cliApp.Run(append([]string{"mcwrap"}, args...))
	return out.String(), err
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcwrap.toml")
	if err := os.WriteFile(path, []byte("[server]\nstop_command = \"save-all\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MCWRAP_LOG_LEVEL", "debug")

	out, err := runCLI(t, "--config", path, "--plugins", "mods", "--queue-size", "5", "config", "--format", "yaml")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, want := range []string{"dir: mods", "queue_size: 5", "stop_command: save-all", "level: debug"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCommandRejectsInvalidValues(t *testing.T) {
	_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "none.toml"), "--log-level", "loud", "config")
	if err == nil || !strings.Contains(err.Error(), "log.level") {
		t.Fatalf("Run = %v, want log.level validation error", err)
	}
}

func TestRunReturnsServerExitCode(t *testing.T) {
	dir := t.TempDir()
	code := run([]string{
		"mcwrap",
		"--config", filepath.Join(dir, "none.toml"),
		"--plugins", filepath.Join(dir, "plugins"),
		"--log-level", "error",
		"--", "sh", "-c", "exit 7",
	})
	if code != 7 {
		t.Errorf("run() = %d, want 7", code)
	}
}
