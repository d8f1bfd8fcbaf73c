// Package app wires the wrapper together: it spawns the server, connects
// its stdio to the dispatch pipeline and the operator console, loads the
// plugins and drives the stop and crash hooks.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/mcwrap/internal/config"
	"github.com/dshills/mcwrap/internal/dispatch"
	"github.com/dshills/mcwrap/internal/logging"
	"github.com/dshills/mcwrap/internal/metrics"
	"github.com/dshills/mcwrap/internal/plugin"
	"github.com/dshills/mcwrap/internal/plugin/settings"
	"github.com/dshills/mcwrap/internal/process"
	"github.com/dshills/mcwrap/internal/trigger"
)

// killGrace is how long the server gets between SIGTERM and SIGKILL once
// a forced shutdown starts.
const killGrace = 10 * time.Second

// Application is the central coordinator for all wrapper components.
type Application struct {
	mu sync.Mutex

	config *config.Config
	opts   Options
	log    *logging.Logger

	// Core
	registry   *trigger.Registry
	runtime    *plugin.Runtime
	watcher    *settings.Watcher
	channel    *dispatch.Channel
	supervisor *process.Supervisor
	metrics    *metrics.Metrics

	// Set while the server runs
	proc     *process.Process
	stopper  *dispatch.Producer
	stopping atomic.Bool
	forced   atomic.Bool

	running atomic.Bool
}

// Options configures the application.
type Options struct {
	// Version is shown in the startup banner.
	Version string

	// Stdin is the operator console (default os.Stdin).
	Stdin io.Reader

	// Stdout receives echoed server output and console replies
	// (default os.Stdout).
	Stdout io.Writer

	// Stderr is inherited by the server (default os.Stderr).
	Stderr io.Writer

	// Logger overrides the logger built from the config.
	Logger *logging.Logger

	// HandleSignals installs SIGINT/SIGTERM handling for the stop sequence.
	HandleSignals bool
}

// New creates an Application from a validated config.
func New(cfg *config.Config, opts Options) (*Application, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	app := &Application{
		config: cfg,
		opts:   opts,
	}

	if err := app.bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// bootstrap initializes all components in dependency order.
func (app *Application) bootstrap() error {
	// 1. Logging
	app.log = app.opts.Logger
	if app.log == nil {
		app.log = logging.New(logging.Config{
			Level:  logging.ParseLevel(app.config.Log.Level),
			Output: os.Stderr,
		})
	}

	// 2. Command channel and metrics
	app.channel = dispatch.NewChannel(app.config.Dispatch.QueueSize)
	if app.config.Metrics.Addr != "" {
		app.metrics = metrics.New(app.channel.Len)
	}

	// 3. Trigger registry and plugin runtime
	app.registry = trigger.NewRegistry()

	var runtimeOpts []plugin.RuntimeOption
	runtimeOpts = append(runtimeOpts, plugin.WithLogger(app.log.WithComponent("plugins")))
	if app.config.Plugins.WatchConfig {
		w, err := settings.NewWatcher(app.log.WithComponent("settings"))
		if err != nil {
			// Plugins still work; edits on disk just are not noticed.
			app.log.Warn("plugin config watching disabled: %v", err)
		} else {
			app.watcher = w
			runtimeOpts = append(runtimeOpts, plugin.WithConfigWatcher(w))
		}
	}
	app.runtime = plugin.NewRuntime(app.registry, plugin.RuntimeConfig{
		PluginPaths:     []string{app.config.Plugins.Dir},
		CallbackTimeout: app.config.Plugins.CallbackTimeout.Duration,
	}, runtimeOpts...)

	// 4. Process supervisor
	app.supervisor = process.NewSupervisor(
		process.WithLogger(app.log.WithComponent("process")),
		process.WithProcessExitCallback(app.processExited),
	)

	return nil
}

// Run loads the plugins, starts the server and blocks until it has exited
// and its hooks have run. The returned error is non-nil only when the
// server could not be started; how the server ended is in the outcome.
func (app *Application) Run(ctx context.Context) (process.ExitOutcome, error) {
	if !app.running.CompareAndSwap(false, true) {
		return process.ExitOutcome{}, ErrAlreadyRunning
	}
	defer app.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.banner()
	defer app.shutdown()

	// Plugins
	if err := app.runtime.LoadAll(ctx); err != nil {
		app.log.Warn("%d plugin(s) failed to load", len(app.runtime.Failed()))
	}
	app.log.Info("%d plugin(s) loaded, %d trigger(s) registered", app.runtime.Count(), app.registry.Len())

	if app.watcher != nil {
		go app.watcher.Run(ctx)
	}
	if app.metrics != nil {
		go app.serveMetrics(ctx)
	}

	// Server
	argv, err := app.config.Argv()
	if err != nil {
		return process.ExitOutcome{}, &InitError{Component: "server", Err: err}
	}
	spawnOpts := []process.SpawnOption{
		process.WithStderr(app.opts.Stderr),
	}
	if app.config.Server.Workdir != "" {
		spawnOpts = append(spawnOpts, process.WithDir(app.config.Server.Workdir))
	}
	if len(app.config.Server.Env) > 0 {
		spawnOpts = append(spawnOpts, process.WithEnv(app.config.Server.Env...))
	}

	proc, err := app.supervisor.Spawn("server", argv, spawnOpts...)
	if err != nil {
		return process.ExitOutcome{}, err
	}
	defer proc.Close()
	app.log.Info("started %q (pid %d)", argv[0], proc.PID())

	// Producers must exist before the writer starts so the channel cannot
	// close early.
	triggers := app.channel.Producer(metrics.SourceTriggers)
	console := app.channel.Producer(metrics.SourceConsole)
	stopper := app.channel.Producer(metrics.SourceSignal)

	app.mu.Lock()
	app.proc = proc
	app.stopper = stopper
	app.mu.Unlock()
	defer stopper.Close()

	writer := dispatch.NewWriter(app.channel,
		dispatch.WithWriterLogger(app.log.WithComponent("writer")),
		dispatch.WithWriterMetrics(app.metrics),
	)
	go func() {
		if err := writer.Run(proc.Stdin); err != nil {
			app.log.WithError(&ComponentError{Component: "writer", Action: "write server stdin", Err: err}).Debug("writer stopped")
		}
		_ = proc.Stdin.Close()
	}()

	forwarder := dispatch.NewForwarder(console,
		dispatch.WithLocalCommands(app.config.Dispatch.ConsolePrefix, app.localCommand),
		dispatch.WithForwarderLogger(app.log.WithComponent("console")),
		dispatch.WithForwarderMetrics(app.metrics),
	)
	go forwarder.Run(ctx, app.opts.Stdin)

	if app.opts.HandleSignals {
		stopSignals := app.handleSignals(ctx)
		defer stopSignals()
	}

	dispatcher := dispatch.NewDispatcher(app.registry, app.runtime, triggers,
		dispatch.WithEcho(app.opts.Stdout, app.config.Dispatch.EchoPrefix),
		dispatch.WithDispatcherLogger(app.log.WithComponent("dispatcher")),
		dispatch.WithDispatcherMetrics(app.metrics),
	)
	if err := dispatcher.Run(ctx, proc.Stdout); err != nil {
		app.log.WithError(err).Error("lost server output, terminating server")
		go app.supervisor.Shutdown(killGrace)
	}

	outcome := app.supervisor.AwaitExit(proc, process.HookFuncs{
		Stop:  func() { app.runHooks(trigger.HookStop) },
		Crash: func(process.ExitOutcome) { app.runHooks(trigger.HookCrash) },
	})
	return outcome, nil
}

// runHooks runs every plugin hook of one kind, logging failures.
func (app *Application) runHooks(kind trigger.HookKind) {
	hooks := app.registry.Hooks(kind)
	if len(hooks) == 0 {
		return
	}
	app.log.Info("running %d %s hook(s)", len(hooks), kind)

	for _, cerr := range app.registry.RunHooks(kind, app.runtime) {
		app.metrics.CallbackFailed(cerr.Owner)
		app.log.WithPlugin(cerr.Owner).Error("%v", cerr)
	}
}

// serveMetrics exposes /metrics until ctx is cancelled.
func (app *Application) serveMetrics(ctx context.Context) {
	log := app.log.WithComponent("metrics")
	log.Info("serving metrics on %s/metrics", app.config.Metrics.Addr)
	if err := app.metrics.Serve(ctx, app.config.Metrics.Addr); err != nil {
		log.WithError(&ComponentError{Component: "metrics", Action: "serve", Err: err}).Error("metrics endpoint stopped")
	}
}

// processExited runs on the supervisor's monitor goroutine once the server
// process is gone.
func (app *Application) processExited(p *process.Process) {
	app.metrics.ServerExited(p.State().String())
	app.log.WithComponent("process").WithFields(map[string]any{
		"pid":    p.PID(),
		"state":  p.State().String(),
		"code":   p.ExitCode(),
		"uptime": p.Runtime().Round(time.Millisecond).String(),
	}).Info("%s exited", p.Name)
}

// banner logs the startup line.
func (app *Application) banner() {
	version := app.opts.Version
	if version == "" {
		version = "dev"
	}
	app.log.Info("mcwrap %s (plugins: %s, queue: %d)", version, app.config.Plugins.Dir, app.channel.Cap())
}

// shutdown releases everything Run started, after the server is gone.
func (app *Application) shutdown() {
	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			app.log.Debug("closing config watcher: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.runtime.UnloadAll(ctx); err != nil {
		app.log.Warn("unloading plugins: %v", err)
	}

	app.mu.Lock()
	app.proc = nil
	app.stopper = nil
	app.mu.Unlock()
}

// Registry returns the trigger registry.
func (app *Application) Registry() *trigger.Registry {
	return app.registry
}

// Runtime returns the plugin runtime.
func (app *Application) Runtime() *plugin.Runtime {
	return app.runtime
}

// Metrics returns the metrics, or nil when the endpoint is disabled.
func (app *Application) Metrics() *metrics.Metrics {
	return app.metrics
}

// IsRunning returns true while Run is active.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}
