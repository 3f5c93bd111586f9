package platform

import (
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"
)

// LoadRules loads platform mapping rules from a Lua file and merges them
// onto the built-in defaults. The detected platform is injected as a
// read-only `platform` global so rules can be conditional, e.g.:
//
//	rules = {
//	    arch = { amd64 = "x86_64" },
//	    tools = {
//	        shellcheck = { os = { darwin = "macos" }, ext = ".zip" },
//	    },
//	}
//
// An empty path returns the defaults unchanged.
func LoadRules(path string, info *Info) (*Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	L := newSandboxedVM()
	defer L.Close()

	if info != nil {
		injectPlatformTable(L, info)
	}

	if err := L.DoString(string(code)); err != nil {
		return nil, fmt.Errorf("evaluate rules file %s: %w", path, err)
	}

	rulesVal := L.GetGlobal("rules")
	if rulesVal.Type() == lua.LTNil {
		// A rules file that declares nothing is valid.
		return rules, nil
	}
	table, ok := rulesVal.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("rules file %s: 'rules' must be a table, got %s", path, rulesVal.Type())
	}

	if err := extractRules(table, rules); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}

	return rules, nil
}

// extractRules copies the os/arch/tools sections of a Lua rules table into
// an existing Rules value.
func extractRules(table *lua.LTable, rules *Rules) error {
	if err := extractStringMap(table.RawGetString("os"), rules.OS, "os"); err != nil {
		return err
	}
	if err := extractStringMap(table.RawGetString("arch"), rules.Arch, "arch"); err != nil {
		return err
	}

	toolsVal := table.RawGetString("tools")
	if toolsVal.Type() == lua.LTNil {
		return nil
	}
	toolsTable, ok := toolsVal.(*lua.LTable)
	if !ok {
		return fmt.Errorf("'tools' must be a table, got %s", toolsVal.Type())
	}

	var extractErr error
	toolsTable.ForEach(func(key, value lua.LValue) {
		if extractErr != nil {
			return
		}
		name, ok := key.(lua.LString)
		if !ok {
			extractErr = fmt.Errorf("tool names must be strings, got %s", key.Type())
			return
		}
		toolTable, ok := value.(*lua.LTable)
		if !ok {
			extractErr = fmt.Errorf("tool %q: expected table, got %s", name, value.Type())
			return
		}

		tr := ToolRules{
			OS:   map[string]string{},
			Arch: map[string]string{},
		}
		if err := extractStringMap(toolTable.RawGetString("os"), tr.OS, "os"); err != nil {
			extractErr = fmt.Errorf("tool %q: %w", name, err)
			return
		}
		if err := extractStringMap(toolTable.RawGetString("arch"), tr.Arch, "arch"); err != nil {
			extractErr = fmt.Errorf("tool %q: %w", name, err)
			return
		}
		if extVal := toolTable.RawGetString("ext"); extVal.Type() == lua.LTString {
			tr.Ext = string(extVal.(lua.LString))
		}
		rules.Tools[string(name)] = tr
	})

	return extractErr
}

// extractStringMap copies a Lua table of string→string pairs into dst.
// A nil value is treated as an empty table.
func extractStringMap(val lua.LValue, dst map[string]string, field string) error {
	if val.Type() == lua.LTNil {
		return nil
	}
	table, ok := val.(*lua.LTable)
	if !ok {
		return fmt.Errorf("'%s' must be a table, got %s", field, val.Type())
	}

	var err error
	table.ForEach(func(key, value lua.LValue) {
		if err != nil {
			return
		}
		k, kok := key.(lua.LString)
		v, vok := value.(lua.LString)
		if !kok || !vok {
			err = fmt.Errorf("'%s' entries must map strings to strings", field)
			return
		}
		dst[string(k)] = string(v)
	})
	return err
}

// injectPlatformTable exposes the detected platform to rules code as a
// read-only `platform` global.
func injectPlatformTable(L *lua.LState, info *Info) {
	platformTable := L.NewTable()

	L.SetField(platformTable, "os", lua.LString(info.OS))
	L.SetField(platformTable, "arch", lua.LString(info.Arch))
	L.SetField(platformTable, "arch_raw", lua.LString(info.ArchRaw))

	L.SetField(platformTable, "is_linux", lua.LBool(info.IsLinux()))
	L.SetField(platformTable, "is_macos", lua.LBool(info.IsMacOS()))
	L.SetField(platformTable, "is_windows", lua.LBool(info.IsWindows()))
	L.SetField(platformTable, "is_amd64", lua.LBool(info.IsAMD64()))
	L.SetField(platformTable, "is_arm64", lua.LBool(info.IsARM64()))

	if info.IsLinux() && info.Distro != "" {
		distroTable := L.NewTable()
		L.SetField(distroTable, "id", lua.LString(info.Distro))
		L.SetField(distroTable, "family", lua.LString(info.Family))
		L.SetField(distroTable, "version", lua.LString(info.DistroVersion))
		L.SetField(platformTable, "distro", distroTable)
	} else {
		L.SetField(platformTable, "distro", lua.LNil)
	}

	L.SetGlobal("platform", makeReadOnly(L, platformTable))
}

// makeReadOnly wraps a Lua table in a proxy whose metatable redirects reads
// to the original table and rejects all writes.
func makeReadOnly(L *lua.LState, table *lua.LTable) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", table)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("platform table is read-only and cannot be modified")
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)
	return proxy
}

// sandboxLuaVM strips the Lua state of anything that could execute system
// commands, touch the filesystem, or load external code. Rules files are
// declarative; string, table, and math remain available.
func sandboxLuaVM(L *lua.LState) {
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
}

// newSandboxedVM creates a new Lua VM with sandboxing applied.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	sandboxLuaVM(L)
	return L
}
