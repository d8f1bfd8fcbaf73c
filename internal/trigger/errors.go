package trigger

import (
	"errors"
	"fmt"
)

// ErrNilCallback is returned when registering a nil callback handle.
var ErrNilCallback = errors.New("callback is nil")

// PatternError reports a pattern that failed to compile.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid trigger pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// CallbackError reports a callback or hook that failed during invocation.
type CallbackError struct {
	// Owner is the plugin that registered the callback.
	Owner string
	// Pattern is the trigger pattern, empty for hooks.
	Pattern string
	// Hook is the hook kind, empty for triggers.
	Hook HookKind
	Err  error
}

func (e *CallbackError) Error() string {
	if e.Hook != "" {
		return fmt.Sprintf("%s hook from %q failed: %v", e.Hook, e.Owner, e.Err)
	}
	return fmt.Sprintf("trigger %q from %q failed: %v", e.Pattern, e.Owner, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}
