package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/dshills/mcwrap/internal/logging"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "mcwrap.toml"

// Config is the wrapper configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Plugins  PluginsConfig  `toml:"plugins" yaml:"plugins"`
	Dispatch DispatchConfig `toml:"dispatch" yaml:"dispatch"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`
}

// ServerConfig describes the child process.
type ServerConfig struct {
	// Command is the program to run.
	Command string `toml:"command" yaml:"command"`

	// Args are passed to Command.
	Args []string `toml:"args" yaml:"args"`

	// CommandLine, when set, replaces Command and Args. It is split with
	// shell quoting rules, e.g. `java -Xmx2G -jar "server 1.20.jar" nogui`.
	CommandLine string `toml:"command_line" yaml:"command_line"`

	// Workdir is the child's working directory (default: inherited).
	Workdir string `toml:"workdir" yaml:"workdir"`

	// Env entries (KEY=VALUE) are added to the inherited environment.
	Env []string `toml:"env" yaml:"env"`

	// StopCommand is written to the child's stdin on the first interrupt.
	StopCommand string `toml:"stop_command" yaml:"stop_command"`

	// StopTimeout is how long the child gets to exit after StopCommand
	// before it is terminated.
	StopTimeout Duration `toml:"stop_timeout" yaml:"stop_timeout"`
}

// PluginsConfig configures the Lua plugin runtime.
type PluginsConfig struct {
	Dir             string   `toml:"dir" yaml:"dir"`
	CallbackTimeout Duration `toml:"callback_timeout" yaml:"callback_timeout"`
	WatchConfig     bool     `toml:"watch_config" yaml:"watch_config"`
}

// DispatchConfig configures the stdio plumbing.
type DispatchConfig struct {
	// QueueSize is the command channel capacity.
	QueueSize int `toml:"queue_size" yaml:"queue_size"`

	// EchoPrefix is printed before every echoed server line.
	EchoPrefix string `toml:"echo_prefix" yaml:"echo_prefix"`

	// ConsolePrefix marks operator lines handled by the wrapper itself.
	// Empty disables local commands.
	ConsolePrefix string `toml:"console_prefix" yaml:"console_prefix"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `toml:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Command:     "java",
			Args:        []string{},
			Env:         []string{},
			StopCommand: "stop",
			StopTimeout: Duration{30 * time.Second},
		},
		Plugins: PluginsConfig{
			Dir:         "lua_plugins",
			WatchConfig: true,
		},
		Dispatch: DispatchConfig{
			QueueSize:     1000,
			EchoPrefix:    "[MC]",
			ConsolePrefix: ":",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetCommand replaces the configured child command with argv.
func (c *Config) SetCommand(argv []string) {
	if len(argv) == 0 {
		return
	}
	c.Server.Command = argv[0]
	c.Server.Args = append([]string(nil), argv[1:]...)
	c.Server.CommandLine = ""
}

// Argv returns the child's full argument vector.
func (c *Config) Argv() ([]string, error) {
	if c.Server.CommandLine != "" {
		argv, err := shlex.Split(c.Server.CommandLine)
		if err != nil {
			return nil, fmt.Errorf("server.command_line: %w", err)
		}
		if len(argv) == 0 {
			return nil, ErrNoCommand
		}
		return argv, nil
	}
	if c.Server.Command == "" {
		return nil, ErrNoCommand
	}
	return append([]string{c.Server.Command}, c.Server.Args...), nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(path, msg string, value any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value})
	}

	if _, err := c.Argv(); err != nil {
		add("server.command", err.Error(), c.Server.Command)
	}
	for _, kv := range c.Server.Env {
		if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
			add("server.env", "entries must be KEY=VALUE", kv)
		}
	}
	if strings.TrimSpace(c.Server.StopCommand) == "" {
		add("server.stop_command", "must not be empty", c.Server.StopCommand)
	}
	if c.Server.StopTimeout.Duration < 0 {
		add("server.stop_timeout", "must not be negative", c.Server.StopTimeout)
	}

	if c.Plugins.Dir == "" {
		add("plugins.dir", "must not be empty", c.Plugins.Dir)
	}
	if c.Plugins.CallbackTimeout.Duration < 0 {
		add("plugins.callback_timeout", "must not be negative", c.Plugins.CallbackTimeout)
	}

	if c.Dispatch.QueueSize < 0 {
		add("dispatch.queue_size", "must not be negative", c.Dispatch.QueueSize)
	}
	if strings.ContainsAny(c.Dispatch.ConsolePrefix, " \t") {
		add("dispatch.console_prefix", "must not contain whitespace", c.Dispatch.ConsolePrefix)
	}

	if !logging.ValidLevel(c.Log.Level) {
		add("log.level", "must be one of debug, info, warn, error", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Duration is a time.Duration written as a string such as "30s" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", node.Line)
	}
	if err := d.UnmarshalText([]byte(node.Value)); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}
