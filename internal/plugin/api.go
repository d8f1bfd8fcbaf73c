package plugin

import (
	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/mcwrap/internal/plugin/lua"
)

const (
	apiTypeName    = "mcwrap.api"
	serverTypeName = "mcwrap.server"

	// ModuleName is the name plugins pass to require to get their API object.
	ModuleName = "mcwrap"
)

// installAPI exposes the plugin API object to the plugin's Lua state, both
// as Server:get_context(...) and as require("mcwrap").
// Called from Load with h.mu held; API functions must not take h.mu.
func (h *Host) installAPI() {
	L := h.state.LuaState()

	mt := L.NewTypeMetatable(apiTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"register":            h.luaRegister,
		"register_stop_hook":  h.luaRegisterStopHook,
		"register_crash_hook": h.luaRegisterCrashHook,
		"log":                 h.luaLog,
		"warn":                h.luaWarn,
		"error":               h.luaError,
		"name":                h.luaName,
		"load_config":         h.luaLoadConfig,
		"config_get":          h.luaConfigGet,
		"config_set":          h.luaConfigSet,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("plugin api: " + h.name))
		return 1
	}))

	api := L.NewUserData()
	api.Value = h
	L.SetMetatable(api, mt)

	smt := L.NewTypeMetatable(serverTypeName)
	L.SetField(smt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		// The module path argument is accepted for compatibility; each
		// plugin has its own state, so the API is already scoped.
		"get_context": func(L *lua.LState) int {
			L.Push(api)
			return 1
		},
	}))
	server := L.NewUserData()
	L.SetMetatable(server, smt)
	h.state.SetGlobal("Server", server)

	h.state.Preload(ModuleName, func(L *lua.LState) int {
		L.Push(api)
		return 1
	})
}

// checkSelf verifies the method was called with colon syntax on this
// plugin's API object.
func (h *Host) checkSelf(L *lua.LState, method string) {
	ud, ok := L.Get(1).(*lua.LUserData)
	if !ok || ud.Value != h {
		L.RaiseError("%s must be called as api:%s(...)", method, method)
	}
}

func (h *Host) luaRegister(L *lua.LState) int {
	h.checkSelf(L, "register")
	pattern := L.CheckString(2)
	fn := L.CheckFunction(3)

	cb := &Callback{host: h, fn: fn}
	var err error
	if h.inCallback.Load() {
		_, err = h.registry.RegisterDeferred(h.name, pattern, cb)
	} else {
		_, err = h.registry.Register(h.name, pattern, cb)
	}
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}

	h.triggers.Add(1)
	h.log.Debug("registered trigger %q", pattern)
	return 0
}

func (h *Host) luaRegisterStopHook(L *lua.LState) int {
	h.checkSelf(L, "register_stop_hook")
	fn := L.CheckFunction(2)
	if err := h.registry.RegisterStopHook(h.name, &Callback{host: h, fn: fn}); err != nil {
		L.RaiseError("%v", err)
	}
	h.hooks.Add(1)
	return 0
}

func (h *Host) luaRegisterCrashHook(L *lua.LState) int {
	h.checkSelf(L, "register_crash_hook")
	fn := L.CheckFunction(2)
	if err := h.registry.RegisterCrashHook(h.name, &Callback{host: h, fn: fn}); err != nil {
		L.RaiseError("%v", err)
	}
	h.hooks.Add(1)
	return 0
}

// message joins the arguments after self with tostring semantics.
func message(L *lua.LState) string {
	var msg string
	for i := 2; i <= L.GetTop(); i++ {
		if i > 2 {
			msg += " "
		}
		msg += L.ToStringMeta(L.Get(i)).String()
	}
	return msg
}

func (h *Host) luaLog(L *lua.LState) int {
	h.checkSelf(L, "log")
	h.log.Info("%s", message(L))
	return 0
}

func (h *Host) luaWarn(L *lua.LState) int {
	h.checkSelf(L, "warn")
	h.log.Warn("%s", message(L))
	return 0
}

func (h *Host) luaError(L *lua.LState) int {
	h.checkSelf(L, "error")
	h.log.Error("%s", message(L))
	return 0
}

func (h *Host) luaName(L *lua.LState) int {
	h.checkSelf(L, "name")
	L.Push(lua.LString(h.name))
	return 1
}

func (h *Host) luaLoadConfig(L *lua.LState) int {
	h.checkSelf(L, "load_config")
	b := plua.NewBridge(L)

	def := b.ToGoValue(L.Get(2))
	if def == nil {
		def = map[string]any{}
	}

	cfg, err := h.settings.LoadOrCreate(def)
	if err != nil {
		L.RaiseError("load config: %v", err)
		return 0
	}
	L.Push(b.ToLuaValue(cfg))
	return 1
}

func (h *Host) luaConfigGet(L *lua.LState) int {
	h.checkSelf(L, "config_get")
	path := L.CheckString(2)

	v, ok, err := h.settings.Get(path)
	if err != nil {
		L.RaiseError("config_get %q: %v", path, err)
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(plua.NewBridge(L).ToLuaValue(v))
	return 1
}

func (h *Host) luaConfigSet(L *lua.LState) int {
	h.checkSelf(L, "config_set")
	path := L.CheckString(2)
	value := plua.NewBridge(L).ToGoValue(L.Get(3))

	if err := h.settings.Set(path, value); err != nil {
		L.RaiseError("config_set %q: %v", path, err)
	}
	return 0
}
