// Package config loads the wrapper configuration.
//
// The file is TOML (mcwrap.toml by default) or YAML, chosen by extension.
// Keys left out keep their defaults and a missing file yields the defaults:
//
//	[server]
//	command_line = "java -Xmx2G -jar server.jar nogui"
//	stop_command = "stop"
//	stop_timeout = "30s"
//
//	[plugins]
//	dir = "lua_plugins"
//	callback_timeout = "0s"
//	watch_config = true
//
//	[dispatch]
//	queue_size = 1000
//	echo_prefix = "[MC]"
//	console_prefix = ":"
//
//	[log]
//	level = "info"
//
//	[metrics]
//	addr = ":9273"
//
// Command-line flags are applied by the caller after Load and before
// Validate.
package config
