// Package plugin loads Lua plugins and runs their callbacks.
//
// Each plugin gets its own Lua state and a scoped API object. Plugins
// register output triggers and lifecycle hooks into one shared
// trigger.Registry; the Runtime then serves as the registry's
// trigger.Invoker.
//
// # Plugin Structure
//
// Plugins live in the plugins directory (lua_plugins by default) and are
// either directories or single files:
//
//	lua_plugins/
//	├── greeter/
//	│   ├── init.lua       # entry point (or plugin.lua)
//	│   ├── plugin.json    # optional manifest
//	│   ├── config.json    # created by api:load_config
//	│   └── util.lua       # require("util")
//	└── motd.lua           # single-file plugin, config in motd.config.json
//
// An optional plugin.json names the plugin and its entry file:
//
//	{"name": "greeter", "version": "1.2.0", "main": "init.lua"}
//
// # Plugin API
//
// The entry file obtains its API object either way:
//
//	local api = Server:get_context(...)
//	local api = require("mcwrap")
//
// and uses colon syntax:
//
//	api:register([[^Player (\w+) joined]], function(line, name)
//	    return { "say welcome " .. name }
//	end)
//	api:register_stop_hook(function() api:log("bye") end)
//	api:register_crash_hook(function() api:error("server crashed") end)
//	local cfg = api:load_config({ greeting = "welcome" })
//	api:config_set("greeting", "hi")
//
// Patterns are Go regular expressions (RE2 syntax), not Lua patterns;
// long brackets keep backslashes intact.
// A callback receives the full line followed by one string per capture
// group ("" for a group that did not participate) and returns nil, a
// string, or a list of strings.
//
// # Trust
//
// Plugins are trusted code. All Lua standard libraries are available and
// every plugin shares the same registry; plugin identity is used for
// logging and config file placement only.
package plugin
