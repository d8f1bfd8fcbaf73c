// Package trigger holds the shared set of output triggers and lifecycle hooks
// that plugins register, and runs the match-and-invoke pass for each line of
// server output.
//
// # Registry
//
// A Registry is an ordered list of (pattern, callback) pairs guarded by a
// single mutex. Registration order is invocation order:
//
//	reg := trigger.NewRegistry()
//	_, err := reg.Register("greeter", `^Player (\w+) joined`, handle)
//
//	res := reg.Dispatch("Player Alice joined", invoker)
//	// res.Commands holds the callbacks' commands in trigger order
//
// Callbacks are opaque Handle values. The registry never looks inside them;
// it passes them to an Invoker, which is implemented by the plugin runtime.
//
// # Locking contract
//
// Dispatch holds the registry lock for the whole pass over one line,
// including every callback invocation. Callbacks must therefore return
// promptly and must not block: a callback that hangs stalls all later lines
// and every Register call. A callback that wants to register new triggers
// from inside a pass must use RegisterDeferred; the trigger becomes active
// when the current pass ends. Lifecycle hooks live under a separate lock
// and may be added at any time.
//
// # Failure isolation
//
// A callback that fails produces a *CallbackError. The pass continues with
// the next trigger and the error is returned alongside the collected commands.
//
// All plugins share one Registry. Each trigger records its owner for
// diagnostics only; there is no isolation between plugins.
package trigger
