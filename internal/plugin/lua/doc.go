// Package lua provides the Lua runtime used by plugins.
//
// This package wraps the gopher-lua library to provide:
//   - Lua state management with per-call deadlines
//   - Go-Lua type conversion bridge
//
// # State
//
// Each plugin owns one State. Calls are serialized by the State's mutex:
//
//	state, err := lua.NewState(
//	    lua.WithSearchPath("lua_plugins/greeter"),
//	    lua.WithExecutionTimeout(2 * time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
//	if err := state.RunFile("lua_plugins/greeter/init.lua"); err != nil {
//	    return err
//	}
//
// # Bridge
//
// The Bridge converts values in both directions and turns callback results
// into server commands:
//
//	bridge := lua.NewBridge(state.LuaState())
//	cmds, err := bridge.ToCommands(results[0])
package lua
