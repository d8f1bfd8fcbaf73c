// Package main is the entry point for mcwrap, a scriptable wrapper for
// Minecraft and other line-oriented servers.
package main

import (
	"fmt"
	"os"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	var exitCode int

	cliApp := newCLI(&exitCode)
	if err := cliApp.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "mcwrap: %v\n", err)
		return 1
	}
	return exitCode
}
