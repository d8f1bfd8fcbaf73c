package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dshills/mcwrap/internal/app"
	"github.com/dshills/mcwrap/internal/config"
	"github.com/dshills/mcwrap/internal/logging"
)

const usage = "run a server and script its console with Lua plugins"

func newCLI(exitCode *int) *cli.App {
	cliApp := cli.NewApp()
	cliApp.Name = "mcwrap"
	cliApp.Usage = usage
	cliApp.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	cliApp.ArgsUsage = "[--] [server command and arguments]"
	cliApp.Description = "Without a server command the one from the config file is used.\n" +
		"Example: mcwrap -- java -Xmx2G -jar server.jar nogui"

	cliApp.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   config.DefaultPath,
			Usage:   "config file (.toml, .yaml or .yml); missing means defaults",
			EnvVars: []string{"MCWRAP_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "plugins",
			Aliases: []string{"p"},
			Usage:   "plugin directory (default \"lua_plugins\")",
			EnvVars: []string{"MCWRAP_PLUGINS"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "log level: debug, info, warn or error",
			EnvVars: []string{"MCWRAP_LOG_LEVEL"},
		},
		&cli.IntFlag{
			Name:    "queue-size",
			Usage:   "command queue capacity",
			EnvVars: []string{"MCWRAP_QUEUE_SIZE"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "serve Prometheus metrics on this address, e.g. :9273",
			EnvVars: []string{"MCWRAP_METRICS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "stop-command",
			Usage:   "command sent to the server on Ctrl-C",
			EnvVars: []string{"MCWRAP_STOP_COMMAND"},
		},
	}

	cliApp.Action = func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		application, err := app.New(cfg, app.Options{
			Version:       version,
			HandleSignals: true,
			Logger: logging.New(logging.Config{
				Level:  logging.ParseLevel(cfg.Log.Level),
				Output: os.Stderr,
			}),
		})
		if err != nil {
			return err
		}

		outcome, err := application.Run(context.Background())
		if err != nil {
			return err
		}
		*exitCode = app.ExitCode(outcome)
		return nil
	}

	cliApp.Commands = []*cli.Command{
		{
			Name:  "config",
			Usage: "print the effective configuration",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "format",
					Value: string(config.FormatTOML),
					Usage: "output format: toml or yaml",
				},
			},
			Action: func(ctx *cli.Context) error {
				cfg, err := loadConfig(ctx)
				if err != nil {
					return err
				}
				return cfg.Encode(ctx.App.Writer, config.Format(ctx.String("format")))
			},
		},
	}

	return cliApp
}

// loadConfig reads the config file and applies flags and positional
// arguments on top.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, err
	}

	if ctx.IsSet("plugins") {
		cfg.Plugins.Dir = ctx.String("plugins")
	}
	if ctx.IsSet("log-level") {
		cfg.Log.Level = ctx.String("log-level")
	}
	if ctx.IsSet("queue-size") {
		cfg.Dispatch.QueueSize = ctx.Int("queue-size")
	}
	if ctx.IsSet("metrics-addr") {
		cfg.Metrics.Addr = ctx.String("metrics-addr")
	}
	if ctx.IsSet("stop-command") {
		cfg.Server.StopCommand = ctx.String("stop-command")
	}
	if ctx.Args().Present() {
		cfg.SetCommand(ctx.Args().Slice())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
