package lua

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// State wraps a gopher-lua state for one plugin.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe. Every entry point on
// State takes the state's mutex, so Go callers may use it from any goroutine.
// Go functions called back from Lua run while that mutex is held and must
// not re-enter the State.
//
// Plugins are trusted: all standard libraries, including io, os and
// package, are opened.
type State struct {
	L *lua.LState

	mu sync.Mutex

	executionTimeout time.Duration
	searchPaths      []string

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout bounds each call into Lua. Zero disables the bound.
// The VM checks the deadline between instructions, so a call blocked inside
// a Go function is not interrupted.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// WithSearchPath lets require find modules in dir, as dir/name.lua or
// dir/name/init.lua. Later calls are searched after earlier ones.
func WithSearchPath(dir string) StateOption {
	return func(s *State) {
		s.searchPaths = append(s.searchPaths, dir)
	}
}

// NewState creates a Lua state with the standard libraries opened.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{}
	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState()
	state.L = L

	if len(state.searchPaths) > 0 {
		if err := state.extendPackagePath(); err != nil {
			L.Close()
			return nil, err
		}
	}

	return state, nil
}

// extendPackagePath prepends the configured directories to package.path.
func (s *State) extendPackagePath() error {
	pkg, ok := s.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return errors.New("lua package library not loaded")
	}

	var parts []string
	for _, dir := range s.searchPaths {
		parts = append(parts,
			filepath.Join(dir, "?.lua"),
			filepath.Join(dir, "?", "init.lua"),
		)
	}
	if cur := lua.LVAsString(pkg.RawGetString("path")); cur != "" {
		parts = append(parts, cur)
	}
	pkg.RawSetString("path", lua.LString(strings.Join(parts, ";")))
	return nil
}

// RunFile loads a Lua file as a chunk and calls it with args, which the
// chunk sees as "...".
func (s *State) RunFile(path string, args ...lua.LValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	fn, err := s.L.LoadFile(path)
	if err != nil {
		return err
	}
	_, err = s.callLocked(fn, args)
	return err
}

// run executes fn with panic recovery and the execution deadline applied.
// Callers hold s.mu.
func (s *State) run(fn func() error) (err error) {
	if s.executionTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.executionTimeout)
		defer cancel()
		s.L.SetContext(ctx)
		defer func() {
			s.L.RemoveContext()
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %s: %v", ErrExecutionTimeout, s.executionTimeout, err)
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// CallFunction calls fn with the given arguments and returns every value
// it returned. Returns an empty slice (not nil) if fn returns nothing.
func (s *State) CallFunction(fn *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	if fn == nil {
		return nil, ErrNotFunction
	}
	return s.callLocked(fn, args)
}

func (s *State) callLocked(fn *lua.LFunction, args []lua.LValue) ([]lua.LValue, error) {
	stackTop := s.L.GetTop()

	var results []lua.LValue
	err := s.run(func() error {
		s.L.Push(fn)
		for _, arg := range args {
			s.L.Push(arg)
		}
		if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
			return err
		}

		nRet := s.L.GetTop() - stackTop
		results = make([]lua.LValue, 0, max(nRet, 0))
		for i := 1; i <= nRet; i++ {
			results = append(results, s.L.Get(stackTop+i))
		}
		return nil
	})

	// Leave the stack as we found it, including after a failed call.
	if top := s.L.GetTop(); top > stackTop {
		s.L.Pop(top - stackTop)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// Preload makes a Go-built module available to require under name.
func (s *State) Preload(name string, loader lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.PreloadModule(name, loader)
}

// LuaState returns the underlying gopher-lua state.
//
// WARNING: Direct access to LState bypasses the mutex. The caller is
// responsible for ensuring no other goroutine uses the State meanwhile.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases all resources associated with the Lua state.
// After Close is called, all other methods will return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.L.Close()
	s.closed = true
	return nil
}
