package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/mcwrap/internal/dispatch"
)

// Stop asks the server to shut down by sending the configured stop command.
// If the server is still running after server.stop_timeout it is
// terminated. Calling Stop again while a stop is pending forces the
// shutdown at once.
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	proc, stopper := app.proc, app.stopper
	app.mu.Unlock()

	if proc == nil {
		return ErrNotRunning
	}
	if !app.stopping.CompareAndSwap(false, true) {
		app.ForceStop()
		return nil
	}

	cmd := app.config.Server.StopCommand
	app.log.Info("stopping server with %q", cmd)
	if err := stopper.Submit(ctx, dispatch.Normalize(cmd)); err != nil {
		app.log.Warn("could not send stop command: %v", err)
		app.ForceStop()
		return err
	}
	app.metrics.CommandSubmitted(stopper.Source())

	if timeout := app.config.Server.StopTimeout.Duration; timeout > 0 {
		go func() {
			t := time.NewTimer(timeout)
			defer t.Stop()
			select {
			case <-proc.Done():
			case <-t.C:
				app.log.Warn("server still running %s after %q", timeout, cmd)
				app.ForceStop()
			}
		}()
	}
	return nil
}

// ForceStop terminates the server: SIGTERM to its process group, then
// SIGKILL if it has not exited within a grace period. It does not wait.
func (app *Application) ForceStop() {
	if !app.forced.CompareAndSwap(false, true) {
		return
	}
	app.log.Warn("forcing server shutdown")
	go app.supervisor.Shutdown(killGrace)
}

// handleSignals turns the first SIGINT or SIGTERM into Stop and any later
// one into ForceStop. The returned function uninstalls the handler.
func (app *Application) handleSignals(ctx context.Context) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				app.log.Info("received %s", sig)
				if app.stopping.Load() {
					app.ForceStop()
					continue
				}
				_ = app.Stop(ctx)
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
	}
}
