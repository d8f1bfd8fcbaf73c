package lua

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// Bridge provides utilities for Go-Lua interoperability.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToCommands converts a callback's return value into server commands.
//
// nil yields no commands, a string yields one, and a sequence yields one
// per element. Numbers are converted with Lua's tostring rules; any other
// element type, or a table with keys outside 1..n, is an error.
func (b *Bridge) ToCommands(lv lua.LValue) ([]string, error) {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return nil, nil
	case lua.LString:
		return []string{string(v)}, nil
	case *lua.LTable:
		n := v.Len()
		cmds := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			switch elem := v.RawGetInt(i).(type) {
			case lua.LString:
				cmds = append(cmds, string(elem))
			case lua.LNumber:
				cmds = append(cmds, elem.String())
			default:
				return nil, fmt.Errorf("command %d is a %s, want string", i, elem.Type())
			}
		}
		if keys := countKeys(v); keys != n {
			return nil, fmt.Errorf("callback returned a table with %d non-sequence keys, want a list of strings", keys-n)
		}
		return cmds, nil
	default:
		return nil, fmt.Errorf("callback returned a %s, want a list of strings", lv.Type())
	}
}

// countKeys returns the number of non-nil entries in t.
func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// ToGoValue converts a Lua value to a Go value suitable for JSON encoding.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGoValueWithVisited(lv, make(map[*lua.LTable]bool))
}

func (b *Bridge) toGoValueWithVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)
		return b.tableToGoWithVisited(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

// tableToGoWithVisited converts a table to a slice when its keys are exactly
// 1..n, otherwise to a map keyed by the string form of each key.
func (b *Bridge) tableToGoWithVisited(t *lua.LTable, visited map[*lua.LTable]bool) any {
	isArray := true
	maxN, count := 0, 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				maxN = max(maxN, n)
				return
			}
		}
		isArray = false
	})

	if count == 0 {
		return map[string]any{}
	}

	if isArray && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = b.toGoValueWithVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		m[lua.LVAsString(k)] = b.toGoValueWithVisited(v, visited)
	})
	return m
}

// ToLuaValue converts a Go value to a Lua value. JSON-shaped values
// (bool, numbers, string, []any, map[string]any) round-trip with ToGoValue.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := b.L.CreateTable(len(val), 0)
		for i, e := range val {
			t.RawSetInt(i+1, b.ToLuaValue(e))
		}
		return t
	case []string:
		return b.StringsToTable(val)
	case map[string]any:
		t := b.L.CreateTable(0, len(val))
		for k, e := range val {
			t.RawSetString(k, b.ToLuaValue(e))
		}
		return t
	case lua.LValue:
		return val
	default:
		ud := b.L.NewUserData()
		ud.Value = v
		return ud
	}
}

// StringsToTable converts a string slice to a Lua sequence.
func (b *Bridge) StringsToTable(s []string) *lua.LTable {
	t := b.L.CreateTable(len(s), 0)
	for i, v := range s {
		t.RawSetInt(i+1, lua.LString(v))
	}
	return t
}

// StringArgs converts strings to Lua call arguments.
func StringArgs(s []string) []lua.LValue {
	args := make([]lua.LValue, len(s))
	for i, v := range s {
		args[i] = lua.LString(v)
	}
	return args
}
