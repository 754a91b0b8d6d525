// Package runscript loads Lua run descriptions. A run_description.lua is an
// alternative to run_description.json: the script must return a table with
// the same shape, which is converted to JSON for the run to decode. Scripts
// run sandboxed with no IO, no loading, and no nondeterministic math.
package runscript

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
)

// IsLuaDescription checks whether a path names a Lua description.
func IsLuaDescription(path string) bool {
	return filepath.Ext(path) == ".lua"
}

// Load runs the script and returns its returned table as JSON.
func Load(path string) ([]byte, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // Don't load any libraries by default
	})
	defer L.Close()

	openSafeLibs(L)

	if err := L.DoFile(path); err != nil {
		return nil, fmt.Errorf("failed to run description script: %w", err)
	}

	ret := L.Get(-1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("description script must return a table, got %s", ret.Type())
	}

	value, err := luaToGo(tbl)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode description: %w", err)
	}
	return data, nil
}

// openSafeLibs loads only the safe standard libraries
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove dangerous base functions
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Remove non-deterministic math functions
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

// luaToGo converts a Lua value into the JSON-ready Go equivalent. Tables
// with consecutive integer keys from 1 become arrays, everything else
// becomes a map.
func luaToGo(v lua.LValue) (any, error) {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		return float64(val), nil
	case lua.LString:
		return string(val), nil
	case *lua.LTable:
		return tableToGo(val)
	default:
		return nil, fmt.Errorf("unsupported value of type %s in description", v.Type())
	}
}

func tableToGo(tbl *lua.LTable) (any, error) {
	if n := tbl.MaxN(); n > 0 {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := luaToGo(tbl.RawGetInt(i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	}

	obj := make(map[string]any)
	var convErr error
	tbl.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			convErr = fmt.Errorf("non-string key %q in description table", k.String())
			return
		}
		item, err := luaToGo(v)
		if err != nil {
			convErr = err
			return
		}
		obj[string(key)] = item
	})
	if convErr != nil {
		return nil, convErr
	}
	return obj, nil
}
