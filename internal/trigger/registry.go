package trigger

import (
	"fmt"
	"regexp"
	"sync"
)

// Handle is an opaque reference to a callback living in a plugin runtime.
type Handle any

// Invoker calls into the plugin runtime on behalf of the registry.
type Invoker interface {
	// Invoke calls a trigger callback with the full line followed by each
	// capture group, and returns the commands it produced.
	Invoke(h Handle, args []string) ([]string, error)

	// InvokeHook calls a lifecycle hook with no arguments.
	InvokeHook(h Handle) error
}

// Trigger pairs a compiled pattern with the callback it fires.
type Trigger struct {
	Owner    string
	Pattern  *regexp.Regexp
	Callback Handle
}

// HookKind identifies a lifecycle hook list.
type HookKind string

// Lifecycle hook kinds.
const (
	HookStop  HookKind = "stop"
	HookCrash HookKind = "crash"
)

// Hook is a lifecycle callback.
type Hook struct {
	Owner    string
	Callback Handle
}

// Registry is the shared, ordered set of triggers and lifecycle hooks.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	triggers []*Trigger

	// Hooks have their own lock so callbacks may add them mid-pass.
	hookMu     sync.Mutex
	stopHooks  []*Hook
	crashHooks []*Hook

	// pending holds triggers registered from inside a dispatch pass.
	pendingMu sync.Mutex
	pending   []*Trigger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Compile builds a Trigger without registering it.
func Compile(owner, pattern string, cb Handle) (*Trigger, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &PatternError{Pattern: pattern, Err: err}
	}
	return &Trigger{Owner: owner, Pattern: re, Callback: cb}, nil
}

// Register compiles pattern and appends a trigger. Duplicate patterns are
// allowed and all of them fire. Register blocks while a dispatch pass is in
// progress.
func (r *Registry) Register(owner, pattern string, cb Handle) (*Trigger, error) {
	t, err := Compile(owner, pattern, cb)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, t)
	return t, nil
}

// RegisterDeferred compiles pattern and queues the trigger to be appended
// when the current dispatch pass ends. It must be used by callbacks running
// inside Dispatch, where Register would deadlock. Outside a pass the trigger
// is appended at the start of the next one.
func (r *Registry) RegisterDeferred(owner, pattern string, cb Handle) (*Trigger, error) {
	t, err := Compile(owner, pattern, cb)
	if err != nil {
		return nil, err
	}

	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending = append(r.pending, t)
	return t, nil
}

// RegisterStopHook appends a hook run when the server exits cleanly.
func (r *Registry) RegisterStopHook(owner string, cb Handle) error {
	return r.addHook(HookStop, owner, cb)
}

// RegisterCrashHook appends a hook run when the server exits abnormally.
func (r *Registry) RegisterCrashHook(owner string, cb Handle) error {
	return r.addHook(HookCrash, owner, cb)
}

func (r *Registry) addHook(kind HookKind, owner string, cb Handle) error {
	if cb == nil {
		return ErrNilCallback
	}

	r.hookMu.Lock()
	defer r.hookMu.Unlock()

	h := &Hook{Owner: owner, Callback: cb}
	switch kind {
	case HookStop:
		r.stopHooks = append(r.stopHooks, h)
	case HookCrash:
		r.crashHooks = append(r.crashHooks, h)
	default:
		return fmt.Errorf("unknown hook kind %q", kind)
	}
	return nil
}

// Unregister removes every trigger and hook owned by owner, including
// deferred triggers not yet active, and returns how many were removed.
// Like Register, it blocks while a dispatch pass is in progress.
func (r *Registry) Unregister(owner string) int {
	r.mu.Lock()
	r.pendingMu.Lock()
	n := 0
	r.triggers, n = removeOwned(r.triggers, owner, n)
	r.pending, n = removeOwned(r.pending, owner, n)
	r.pendingMu.Unlock()
	r.mu.Unlock()

	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.stopHooks, n = removeOwnedHooks(r.stopHooks, owner, n)
	r.crashHooks, n = removeOwnedHooks(r.crashHooks, owner, n)
	return n
}

func removeOwned(ts []*Trigger, owner string, n int) ([]*Trigger, int) {
	kept := ts[:0]
	for _, t := range ts {
		if t.Owner == owner {
			n++
			continue
		}
		kept = append(kept, t)
	}
	return kept, n
}

func removeOwnedHooks(hs []*Hook, owner string, n int) ([]*Hook, int) {
	kept := hs[:0]
	for _, h := range hs {
		if h.Owner == owner {
			n++
			continue
		}
		kept = append(kept, h)
	}
	return kept, n
}

// Len returns the number of active triggers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.triggers)
}

// Triggers returns a snapshot of the active triggers in registration order.
func (r *Registry) Triggers() []*Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Trigger(nil), r.triggers...)
}

// Hooks returns a snapshot of the hooks of the given kind.
func (r *Registry) Hooks(kind HookKind) []*Hook {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()

	switch kind {
	case HookStop:
		return append([]*Hook(nil), r.stopHooks...)
	case HookCrash:
		return append([]*Hook(nil), r.crashHooks...)
	default:
		return nil
	}
}

// flushPendingLocked moves deferred triggers into the active list.
// r.mu must be held.
func (r *Registry) flushPendingLocked() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	if len(r.pending) == 0 {
		return
	}
	r.triggers = append(r.triggers, r.pending...)
	r.pending = nil
}
