package trigger

import (
	"fmt"
	"regexp"
)

// Result is the outcome of one dispatch pass over a line.
type Result struct {
	// Commands holds every command returned by matching callbacks, in
	// trigger order and, within a trigger, in the order returned.
	Commands []string
	// Matched is the number of triggers whose pattern matched.
	Matched int
	// Errors holds the failures of individual callbacks.
	Errors []*CallbackError
}

// Args returns the callback arguments for line if re matches it: the full
// line followed by each capture group in group order. Groups that did not
// participate in the match are rendered as empty strings.
func Args(re *regexp.Regexp, line string) ([]string, bool) {
	loc := re.FindStringSubmatchIndex(line)
	if loc == nil {
		return nil, false
	}

	args := make([]string, 0, len(loc)/2)
	args = append(args, line)
	for i := 2; i+1 < len(loc); i += 2 {
		if loc[i] < 0 {
			args = append(args, "")
			continue
		}
		args = append(args, line[loc[i]:loc[i+1]])
	}
	return args, true
}

// Dispatch matches line against every trigger in registration order and
// invokes the callback of each match. The registry lock is held for the
// whole pass. A failing callback is recorded in the result and the pass
// continues.
func (r *Registry) Dispatch(line string, inv Invoker) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushPendingLocked()
	// Runs before the unlock above.
	defer r.flushPendingLocked()

	var res Result
	for _, t := range r.triggers {
		args, ok := Args(t.Pattern, line)
		if !ok {
			continue
		}
		res.Matched++

		cmds, err := invokeTrigger(inv, t.Callback, args)
		if err != nil {
			res.Errors = append(res.Errors, &CallbackError{
				Owner:   t.Owner,
				Pattern: t.Pattern.String(),
				Err:     err,
			})
			continue
		}
		res.Commands = append(res.Commands, cmds...)
	}
	return res
}

// RunHooks invokes every hook of the given kind, one at a time, in
// registration order. Failures are collected and do not stop later hooks.
func (r *Registry) RunHooks(kind HookKind, inv Invoker) []*CallbackError {
	var errs []*CallbackError
	for _, h := range r.Hooks(kind) {
		if err := invokeHook(inv, h.Callback); err != nil {
			errs = append(errs, &CallbackError{Owner: h.Owner, Hook: kind, Err: err})
		}
	}
	return errs
}

func invokeTrigger(inv Invoker, h Handle, args []string) (cmds []string, err error) {
	defer func() {
		if p := recover(); p != nil {
			cmds = nil
			err = fmt.Errorf("callback panic: %v", p)
		}
	}()
	return inv.Invoke(h, args)
}

func invokeHook(inv Invoker, h Handle) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return inv.InvokeHook(h)
}
