// Package process runs and supervises the wrapped server process.
//
// The Supervisor spawns the server with its standard input and output
// piped to the wrapper, tracks it until exit and classifies the exit:
//
//	sup := process.NewSupervisor()
//	proc, err := sup.Spawn("server", []string{"java", "-jar", "server.jar", "nogui"})
//	if err != nil {
//	    return err
//	}
//	// ... read proc.Stdout until EOF ...
//	outcome := sup.AwaitExit(proc, hooks)
//
// Standard output is an os.Pipe owned by the Process rather than an
// exec pipe, so reaping the child never closes the read side before the
// reader has drained it.
//
// # Process groups
//
// On Unix the child is placed in its own process group. A Ctrl-C typed at
// the console then reaches the wrapper only, and signals sent through the
// Process are delivered to the whole group.
//
// # Thread Safety
//
// Both Supervisor and Process are safe for concurrent use.
package process
