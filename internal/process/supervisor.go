package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/mcwrap/internal/logging"
)

// Supervisor starts child processes and tracks them until they exit.
//
// The Supervisor provides:
//   - Process start and tracking
//   - Exit classification and lifecycle hooks
//   - Graceful shutdown with timeout
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	closed atomic.Bool

	// onProcessExit is called when a process exits
	onProcessExit func(p *Process)

	log *logging.Logger
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithProcessExitCallback sets a callback for when processes exit.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// WithLogger sets the supervisor's logger.
func WithLogger(l *logging.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.log = l
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		log:       logging.Discard,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// spawnConfig collects Spawn options.
type spawnConfig struct {
	dir          string
	env          []string
	stderr       io.Writer
	processGroup bool
}

// SpawnOption configures Spawn.
type SpawnOption func(*spawnConfig)

// WithDir sets the working directory of the process.
func WithDir(dir string) SpawnOption {
	return func(c *spawnConfig) {
		c.dir = dir
	}
}

// WithEnv adds KEY=VALUE entries to the inherited environment.
func WithEnv(env ...string) SpawnOption {
	return func(c *spawnConfig) {
		c.env = append(c.env, env...)
	}
}

// WithStderr sets where the process's standard error goes. The default is
// the wrapper's own standard error.
func WithStderr(w io.Writer) SpawnOption {
	return func(c *spawnConfig) {
		c.stderr = w
	}
}

// WithProcessGroup controls whether the process leads its own process
// group. Enabled by default where the platform supports it.
func WithProcessGroup(enabled bool) SpawnOption {
	return func(c *spawnConfig) {
		c.processGroup = enabled
	}
}

// Spawn starts argv[0] with the remaining arguments, with standard input
// and output piped to the wrapper. Any failure is returned as *SpawnError.
func (s *Supervisor) Spawn(name string, argv []string, opts ...SpawnOption) (*Process, error) {
	cfg := spawnConfig{
		stderr:       os.Stderr,
		processGroup: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(argv) == 0 || argv[0] == "" {
		return nil, &SpawnError{Name: name, Argv: argv, Err: ErrEmptyCommand}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cfg.dir
	cmd.Stderr = cfg.stderr
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), cfg.env...)
	}

	group := false
	if cfg.processGroup {
		group = setProcessGroup(cmd)
	}

	proc, err := s.start(uuid.New().String(), name, cmd, group)
	if err != nil {
		return nil, &SpawnError{Name: name, Argv: argv, Err: err}
	}

	s.log.WithFields(map[string]any{
		"process": proc.Name,
		"pid":     proc.PID(),
		"id":      proc.ID,
	}).Info("started %s", argv[0])

	return proc, nil
}

func (s *Supervisor) start(id, name string, cmd *exec.Cmd, group bool) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}

	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process ID already exists: %s", id)
	}

	proc := NewProcess(id, name, cmd)
	proc.group = group

	// Track created handles for cleanup on error
	var created []io.Closer
	cleanup := func() {
		for _, c := range created {
			_ = c.Close()
		}
	}

	if cmd.Stdin == nil {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("create stdin pipe: %w", err)
		}
		proc.Stdin = stdin
		created = append(created, stdin)
	}

	// The write end goes to the child; the parent's copy is closed after
	// start so the reader sees EOF when the child closes its copy.
	var stdoutWriter *os.File
	if cmd.Stdout == nil {
		r, w, err := os.Pipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		cmd.Stdout = w
		proc.Stdout = r
		stdoutWriter = w
		created = append(created, r, w)
	}

	if err := proc.start(); err != nil {
		cleanup()
		return nil, err
	}
	if stdoutWriter != nil {
		_ = stdoutWriter.Close()
	}

	s.processes[id] = proc

	go s.monitorProcess(proc)

	return proc, nil
}

// monitorProcess watches for process exit and cleans up.
func (s *Supervisor) monitorProcess(proc *Process) {
	<-proc.Done()

	if s.onProcessExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("process exit callback panicked: %v", r)
				}
			}()
			s.onProcessExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// List returns all managed processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of managed processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Shutdown stops all processes.
//
// It first sends SIGTERM to all processes and waits up to timeout
// for them to exit. Any processes still running after the timeout
// are killed with SIGKILL.
//
// Shutdown blocks until all processes have exited and been removed.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	procs := s.List()
	if len(procs) == 0 {
		return
	}

	for _, p := range procs {
		if p.IsRunning() {
			s.log.WithField("process", p.Name).Info("sending SIGTERM to pid %d", p.PID())
			_ = p.Terminate()
		}
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		for _, p := range procs {
			if p.IsRunning() {
				s.log.WithField("process", p.Name).Warn("killing pid %d after %s", p.PID(), timeout)
				_ = p.Kill()
			}
		}
		<-done
	}

	s.waitForCleanup()
}

// waitForCleanup waits for all processes to be removed from the map.
func (s *Supervisor) waitForCleanup() {
	for s.Count() != 0 {
		time.Sleep(time.Millisecond)
	}
}
