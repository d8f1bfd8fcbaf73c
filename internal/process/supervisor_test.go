package process

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func spawnShell(t *testing.T, s *Supervisor, script string, opts ...SpawnOption) *Process {
	t.Helper()
	proc, err := s.Spawn("test", []string{"sh", "-c", script}, opts...)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() { _ = proc.Close() })
	return proc
}

func readAll(t *testing.T, proc *Process) string {
	t.Helper()
	out, err := io.ReadAll(proc.Stdout)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	return string(out)
}

func TestNewSupervisor(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	if s.Count() != 0 {
		t.Errorf("expected 0 processes, got %d", s.Count())
	}
}

func TestSpawn_GracefulExit(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc := spawnShell(t, s, "echo 'Done (3.2s)!'; echo second")

	if proc.ID == "" {
		t.Error("expected non-empty process ID")
	}
	if got := readAll(t, proc); got != "Done (3.2s)!\nsecond\n" {
		t.Errorf("unexpected output %q", got)
	}

	var stopped, crashed atomic.Int32
	outcome := s.AwaitExit(proc, HookFuncs{
		Stop:  func() { stopped.Add(1) },
		Crash: func(ExitOutcome) { crashed.Add(1) },
	})

	if outcome.Outcome != OutcomeGraceful {
		t.Errorf("expected graceful outcome, got %s", outcome)
	}
	if stopped.Load() != 1 || crashed.Load() != 0 {
		t.Errorf("expected stop hook once, got stop=%d crash=%d", stopped.Load(), crashed.Load())
	}
}

func TestSpawn_NonZeroExitIsCrash(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc := spawnShell(t, s, "echo boom; exit 3")
	readAll(t, proc)

	var got ExitOutcome
	var stopped bool
	outcome := s.AwaitExit(proc, HookFuncs{
		Stop:  func() { stopped = true },
		Crash: func(o ExitOutcome) { got = o },
	})

	if outcome.Outcome != OutcomeCrash {
		t.Fatalf("expected crash, got %s", outcome)
	}
	if outcome.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", outcome.ExitCode)
	}
	if got.Outcome != OutcomeCrash || stopped {
		t.Error("expected only the crash hook to run")
	}
}

func TestSpawn_SignalDeathIsCrash(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc := spawnShell(t, s, "kill -9 $$")
	readAll(t, proc)

	outcome := s.AwaitExit(proc, nil)
	if outcome.Outcome != OutcomeCrash {
		t.Errorf("expected crash, got %s", outcome)
	}
	if outcome.State != StateKilled {
		t.Errorf("expected killed state, got %s", outcome.State)
	}
}

func TestSpawn_Errors(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	_, err := s.Spawn("empty", nil)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T", err)
	}
	if !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("expected ErrEmptyCommand, got %v", err)
	}

	_, err = s.Spawn("missing", []string{"/nonexistent/server-binary", "nogui"})
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T", err)
	}
	if !strings.Contains(err.Error(), "/nonexistent/server-binary nogui") {
		t.Errorf("error should name the command line: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("failed spawn should not be tracked, got %d", s.Count())
	}
}

func TestSpawn_StdinRoundTrip(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc := spawnShell(t, s, "cat")

	if _, err := io.WriteString(proc.Stdin, "say hello\nlist\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	proc.Stdin.Close()

	if got := readAll(t, proc); got != "say hello\nlist\n" {
		t.Errorf("unexpected output %q", got)
	}
	if o := s.AwaitExit(proc, nil); o.Outcome != OutcomeGraceful {
		t.Errorf("expected graceful exit, got %s", o)
	}
}

func TestSpawn_DirAndEnv(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	dir := t.TempDir()
	proc := spawnShell(t, s, `echo "$MCWRAP_TEST"; pwd -P`,
		WithDir(dir), WithEnv("MCWRAP_TEST=level-name"))

	lines := strings.Split(strings.TrimSpace(readAll(t, proc)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", lines)
	}
	if lines[0] != "level-name" {
		t.Errorf("expected env value, got %q", lines[0])
	}
	want, _ := filepath.EvalSymlinks(dir)
	if lines[1] != want {
		t.Errorf("expected working dir %q, got %q", want, lines[1])
	}
}

func TestSupervisor_ExitCallback(t *testing.T) {
	exited := make(chan *Process, 1)
	s := NewSupervisor(WithProcessExitCallback(func(p *Process) {
		exited <- p
	}))
	defer s.Shutdown(time.Second)

	proc := spawnShell(t, s, "true")

	select {
	case p := <-exited:
		if p.ID != proc.ID {
			t.Error("callback received wrong process")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback was not called")
	}
}

func TestSupervisor_Shutdown(t *testing.T) {
	s := NewSupervisor()

	proc := spawnShell(t, s, "sleep 30")
	if !proc.IsRunning() {
		t.Fatal("expected process to be running")
	}

	start := time.Now()
	s.Shutdown(2 * time.Second)

	if time.Since(start) > 2*time.Second {
		t.Error("SIGTERM should have stopped sleep before the timeout")
	}
	if !proc.HasExited() {
		t.Error("expected process to have exited")
	}
	if s.Count() != 0 {
		t.Errorf("expected 0 processes after shutdown, got %d", s.Count())
	}

	if _, err := s.Spawn("late", []string{"true"}); !errors.Is(err, ErrSupervisorShutdown) {
		t.Errorf("expected ErrSupervisorShutdown, got %v", err)
	}
}

func TestSupervisor_ShutdownKillsAfterTimeout(t *testing.T) {
	s := NewSupervisor()

	proc := spawnShell(t, s, "trap '' TERM; echo ready; sleep 30")
	buf := make([]byte, len("ready\n"))
	if _, err := io.ReadFull(proc.Stdout, buf); err != nil {
		t.Fatalf("read: %v", err)
	}

	s.Shutdown(100 * time.Millisecond)

	if proc.State() != StateKilled {
		t.Errorf("expected killed state, got %s", proc.State())
	}
}

func TestSupervisor_ShutdownReachesProcessGroup(t *testing.T) {
	s := NewSupervisor()

	// The background sleep holds stdout open; EOF arrives only when the
	// whole group is gone.
	proc := spawnShell(t, s, "sleep 30 & wait")

	eof := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, proc.Stdout)
		close(eof)
	}()

	s.Shutdown(2 * time.Second)

	select {
	case <-eof:
	case <-time.After(5 * time.Second):
		t.Fatal("stdout still open after shutdown")
	}
}

func TestProcess_KillIsTracked(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc := spawnShell(t, s, "sleep 30")

	if list := s.List(); len(list) != 1 || list[0] != proc {
		t.Fatalf("expected the spawned process to be listed, got %v", list)
	}

	if err := proc.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	<-proc.Done()
	if proc.State() != StateKilled {
		t.Errorf("expected killed state, got %s", proc.State())
	}
	if proc.ExitCode() != -1 {
		t.Errorf("expected exit code -1, got %d", proc.ExitCode())
	}
}
