package app

import (
	"errors"
	"fmt"

	"github.com/dshills/mcwrap/internal/process"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrNotRunning indicates the server has not been started.
	ErrNotRunning = errors.New("application not running")
)

// InitError represents an initialization error.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ComponentError represents a failure of a running component.
type ComponentError struct {
	Component string // e.g. "dispatcher", "writer", "metrics"
	Action    string
	Err       error
}

func (e *ComponentError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Action, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}

// ExitCode maps how the server ended to the wrapper's own exit status:
// 0 after a graceful stop, the server's status after a non-zero exit and
// 1 otherwise.
func ExitCode(o process.ExitOutcome) int {
	switch {
	case o.Outcome == process.OutcomeGraceful:
		return 0
	case o.ExitCode > 0:
		return o.ExitCode
	default:
		return 1
	}
}
