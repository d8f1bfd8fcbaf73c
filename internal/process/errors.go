package process

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrProcessNotStarted is returned when operations require a started process.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrProcessAlreadyStarted is returned when trying to start an already running process.
	ErrProcessAlreadyStarted = errors.New("process already started")

	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrEmptyCommand is returned when Spawn is given no program.
	ErrEmptyCommand = errors.New("empty command")
)

// SpawnError reports a server process that could not be started.
type SpawnError struct {
	Name string
	Argv []string
	Err  error
}

func (e *SpawnError) Error() string {
	if len(e.Argv) == 0 {
		return fmt.Sprintf("spawn %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("spawn %s (%s): %v", e.Name, strings.Join(e.Argv, " "), e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
