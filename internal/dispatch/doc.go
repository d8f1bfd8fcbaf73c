// Package dispatch moves text between the server process, the plugin
// triggers and the operator console.
//
// Four pieces cooperate:
//
//   - Channel: a bounded FIFO of outgoing commands with any number of
//     producers and exactly one consumer.
//   - Writer: the single consumer. It writes each command to the server's
//     stdin and flushes before taking the next, so commands never interleave.
//   - Forwarder: reads operator lines from the console and submits them.
//   - Dispatcher: reads server output line by line, runs the trigger pass for
//     each line and submits the commands the callbacks return.
//
// Wiring:
//
//	ch := dispatch.NewChannel(dispatch.DefaultCapacity)
//	go dispatch.NewWriter(ch).Run(proc.Stdin)
//	go dispatch.NewForwarder(ch.Producer("console")).Run(ctx, os.Stdin)
//	err := dispatch.NewDispatcher(reg, runtime, ch.Producer("plugin")).Run(ctx, proc.Stdout)
//
// Ordering is guaranteed per producer only. The channel closes once every
// producer has been closed; the Writer then returns.
package dispatch
