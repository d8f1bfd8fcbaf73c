package process

import (
	"fmt"
	"time"
)

// Outcome classifies how the server process ended.
type Outcome int

const (
	// OutcomeGraceful means the process exited with status 0.
	OutcomeGraceful Outcome = iota
	// OutcomeCrash means a non-zero status, death by signal, or a failed wait.
	OutcomeCrash
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGraceful:
		return "graceful"
	case OutcomeCrash:
		return "crash"
	default:
		return fmt.Sprintf("unknown(%d)", o)
	}
}

// ExitOutcome describes a finished process.
type ExitOutcome struct {
	Outcome  Outcome
	State    State
	ExitCode int
	Err      error
	Runtime  time.Duration
}

func (o ExitOutcome) String() string {
	if o.State == StateKilled {
		return fmt.Sprintf("%s: killed by signal after %s", o.Outcome, o.Runtime.Round(time.Second))
	}
	return fmt.Sprintf("%s: exit status %d after %s", o.Outcome, o.ExitCode, o.Runtime.Round(time.Second))
}

// LifecycleHooks receives the end-of-life notification for a process.
type LifecycleHooks interface {
	OnStop()
	OnCrash(ExitOutcome)
}

// HookFuncs adapts plain functions to LifecycleHooks. Nil fields are skipped.
type HookFuncs struct {
	Stop  func()
	Crash func(ExitOutcome)
}

func (h HookFuncs) OnStop() {
	if h.Stop != nil {
		h.Stop()
	}
}

func (h HookFuncs) OnCrash(o ExitOutcome) {
	if h.Crash != nil {
		h.Crash(o)
	}
}

// Outcome reports how p ended. It blocks until p has exited.
func (p *Process) Outcome() ExitOutcome {
	<-p.Done()

	o := ExitOutcome{
		Outcome:  OutcomeCrash,
		State:    p.State(),
		ExitCode: p.ExitCode(),
		Err:      p.ExitError(),
		Runtime:  p.Runtime(),
	}
	if o.Err == nil && o.ExitCode == 0 && o.State == StateExited {
		o.Outcome = OutcomeGraceful
	}
	return o
}

// AwaitExit blocks until p exits, then runs exactly one of the hooks:
// OnStop for a graceful exit, OnCrash otherwise. hooks may be nil.
func (s *Supervisor) AwaitExit(p *Process, hooks LifecycleHooks) ExitOutcome {
	o := p.Outcome()

	log := s.log.WithField("process", p.Name)
	if o.Outcome == OutcomeGraceful {
		log.Info("server stopped (%s)", o)
	} else {
		log.Warn("server crashed (%s)", o)
	}

	if hooks == nil {
		return o
	}
	if o.Outcome == OutcomeGraceful {
		hooks.OnStop()
	} else {
		hooks.OnCrash(o)
	}
	return o
}
