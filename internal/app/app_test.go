package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/mcwrap/internal/config"
	"github.com/dshills/mcwrap/internal/logging"
	"github.com/dshills/mcwrap/internal/process"
)

// lockedBuffer is a bytes.Buffer safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// greeterPlugin welcomes players and records lifecycle hooks in $HOOK_MARKER.
const greeterPlugin = `
local api = Server:get_context(...)

local function mark(s)
	local f = assert(io.open(os.getenv("HOOK_MARKER"), "a"))
	f:write(s, "\n")
	f:close()
end

api:register([[^Player (\w+) joined]], function(line, name)
	return { "say welcome " .. name }
end)
api:register_stop_hook(function() mark("stop") end)
api:register_crash_hook(function() mark("crash") end)
`

type fixture struct {
	cfg    *config.Config
	stdout *lockedBuffer
	logs   *lockedBuffer
	marker string
}

func newFixture(t *testing.T, script string) *fixture {
	t.Helper()

	pluginDir := filepath.Join(t.TempDir(), "lua_plugins")
	require.NoError(t, os.MkdirAll(filepath.Join(pluginDir, "greeter"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "greeter", "init.lua"), []byte(greeterPlugin), 0o644))

	marker := filepath.Join(t.TempDir(), "hooks.txt")
	t.Setenv("HOOK_MARKER", marker)

	cfg := config.Default()
	cfg.SetCommand([]string{"sh", "-c", script})
	cfg.Plugins.Dir = pluginDir
	cfg.Server.StopTimeout = config.Duration{Duration: 200 * time.Millisecond}
	require.NoError(t, cfg.Validate())

	return &fixture{
		cfg:    cfg,
		stdout: &lockedBuffer{},
		logs:   &lockedBuffer{},
		marker: marker,
	}
}

func (f *fixture) app(t *testing.T, stdin io.Reader) *Application {
	t.Helper()
	off := false
	a, err := New(f.cfg, Options{
		Version: "test",
		Stdin:   stdin,
		Stdout:  f.stdout,
		Stderr:  io.Discard,
		Logger:  logging.New(logging.Config{Level: logging.LevelDebug, Output: f.logs, Color: &off}),
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) hooks(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.marker)
	if errors.Is(err, os.ErrNotExist) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func runWithTimeout(t *testing.T, a *Application) process.ExitOutcome {
	t.Helper()

	type result struct {
		o   process.ExitOutcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, err := a.Run(context.Background())
		done <- result{o, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		return r.o
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return")
		return process.ExitOutcome{}
	}
}

func TestRunWelcomesPlayerAndRunsStopHook(t *testing.T) {
	f := newFixture(t, `echo "Player Alice joined"; read line; echo "got: $line"`)
	a := f.app(t, strings.NewReader(""))

	o := runWithTimeout(t, a)

	assert.Equal(t, process.OutcomeGraceful, o.Outcome)
	assert.Equal(t, 0, ExitCode(o))

	out := f.stdout.String()
	assert.Contains(t, out, "[MC] Player Alice joined\n")
	assert.Contains(t, out, "[MC] got: say welcome Alice\n")
	assert.Equal(t, "stop\n", f.hooks(t))

	logs := f.logs.String()
	assert.Contains(t, logs, "1 plugin(s) loaded, 1 trigger(s) registered")
	assert.Equal(t, 0, a.Runtime().Count(), "plugins are unloaded after Run")
}

func TestRunCrashRunsCrashHook(t *testing.T) {
	f := newFixture(t, `echo "Exception in server tick loop"; exit 3`)
	a := f.app(t, strings.NewReader(""))

	o := runWithTimeout(t, a)

	assert.Equal(t, process.OutcomeCrash, o.Outcome)
	assert.Equal(t, 3, ExitCode(o))
	assert.Equal(t, "crash\n", f.hooks(t))

	require.Eventually(t, func() bool {
		return strings.Contains(f.logs.String(), "server exited")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, f.logs.String(), "code=3")
}

func TestRunForwardsConsoleAndHandlesLocalCommands(t *testing.T) {
	f := newFixture(t, `read line; echo "got: $line"`)
	a := f.app(t, strings.NewReader(":triggers\n:bogus\nlist\n"))

	o := runWithTimeout(t, a)
	require.Equal(t, process.OutcomeGraceful, o.Outcome)

	out := f.stdout.String()
	assert.Contains(t, out, `greeter  ^Player (\w+) joined`)
	assert.Contains(t, out, `unknown command "bogus"`)
	assert.Contains(t, out, "[MC] got: list\n")
	assert.NotContains(t, out, "got: :triggers")
}

func TestStopSendsStopCommand(t *testing.T) {
	f := newFixture(t, `while read line; do if [ "$line" = "stop" ]; then echo "Stopping server"; exit 0; fi; done`)
	stdin, _ := io.Pipe()
	a := f.app(t, stdin)

	assert.ErrorIs(t, a.Stop(context.Background()), ErrNotRunning)

	go func() {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if a.Stop(context.Background()) == nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	o := runWithTimeout(t, a)
	assert.Equal(t, process.OutcomeGraceful, o.Outcome)
	assert.Contains(t, f.stdout.String(), "[MC] Stopping server\n")
	assert.Equal(t, "stop\n", f.hooks(t))
}

func TestStopTimeoutTerminatesServer(t *testing.T) {
	f := newFixture(t, `while read line; do :; done`)
	stdin, _ := io.Pipe()
	a := f.app(t, stdin)

	go func() {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if a.Stop(context.Background()) == nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	o := runWithTimeout(t, a)
	assert.Equal(t, process.OutcomeCrash, o.Outcome)
	assert.Equal(t, process.StateKilled, o.State)
	assert.Equal(t, "crash\n", f.hooks(t))
	assert.Contains(t, f.logs.String(), "forcing server shutdown")
}

func TestRunSpawnFailure(t *testing.T) {
	f := newFixture(t, "true")
	f.cfg.SetCommand([]string{filepath.Join(t.TempDir(), "no-such-server")})
	a := f.app(t, strings.NewReader(""))

	_, err := a.Run(context.Background())

	var spawnErr *process.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Empty(t, f.hooks(t), "no hooks without a server")
}

func TestRunTwice(t *testing.T) {
	f := newFixture(t, "sleep 1")
	stdin, _ := io.Pipe()
	a := f.app(t, stdin)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.Run(context.Background())
	}()

	require.Eventually(t, a.IsRunning, 5*time.Second, 5*time.Millisecond)
	_, err := a.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	<-done
}

func TestLocalCommandHelp(t *testing.T) {
	f := newFixture(t, "true")
	a := f.app(t, strings.NewReader(""))

	a.localCommand("help")
	a.localCommand("")
	a.localCommand("plugins")

	out := f.stdout.String()
	assert.Equal(t, 2, strings.Count(out, ":triggers  list registered triggers"))
	assert.Contains(t, out, "PLUGIN")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		o    process.ExitOutcome
		want int
	}{
		{"graceful", process.ExitOutcome{Outcome: process.OutcomeGraceful}, 0},
		{"status", process.ExitOutcome{Outcome: process.OutcomeCrash, ExitCode: 42}, 42},
		{"signal", process.ExitOutcome{Outcome: process.OutcomeCrash, ExitCode: -1, State: process.StateKilled}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.o))
		})
	}
}
