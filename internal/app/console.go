package app

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// localCommand handles console lines addressed to the wrapper, e.g. ":plugins".
func (app *Application) localCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		app.printHelp()
		return
	}

	switch fields[0] {
	case "plugins":
		app.printPlugins()
	case "triggers":
		app.printTriggers()
	case "help":
		app.printHelp()
	default:
		fmt.Fprintf(app.opts.Stdout, "unknown command %q, try %shelp\n", fields[0], app.config.Dispatch.ConsolePrefix)
	}
}

func (app *Application) printPlugins() {
	tw := tabwriter.NewWriter(app.opts.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLUGIN\tVERSION\tSTATE\tTRIGGERS\tHOOKS")
	for _, h := range app.runtime.List() {
		s := h.Stats()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", s.Name, s.Version, s.State, s.Triggers, s.Hooks)
	}
	for _, info := range app.runtime.Failed() {
		fmt.Fprintf(tw, "%s\t-\t%s\t-\t-\n", info.Name, info.State)
	}
	tw.Flush()
}

func (app *Application) printTriggers() {
	triggers := app.registry.Triggers()
	if len(triggers) == 0 {
		fmt.Fprintln(app.opts.Stdout, "no triggers registered")
		return
	}
	tw := tabwriter.NewWriter(app.opts.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPLUGIN\tPATTERN")
	for i, t := range triggers {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, t.Owner, t.Pattern)
	}
	tw.Flush()
}

func (app *Application) printHelp() {
	p := app.config.Dispatch.ConsolePrefix
	fmt.Fprintf(app.opts.Stdout, "%splugins   list loaded plugins\n", p)
	fmt.Fprintf(app.opts.Stdout, "%striggers  list registered triggers in dispatch order\n", p)
	fmt.Fprintf(app.opts.Stdout, "%shelp      show this help\n", p)
	fmt.Fprintf(app.opts.Stdout, "%s%s...     send a line starting with %s to the server\n", p, p, p)
	fmt.Fprintln(app.opts.Stdout, "anything else is sent to the server")
}
