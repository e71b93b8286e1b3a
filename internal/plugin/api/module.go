package api

import (
	"context"

	glua "github.com/yuin/gopher-lua"

	ilua "github.com/extrun/extrun/internal/plugin/lua"
)

// InstallLuaModule preloads the host API as the "host" module in a
// plugin interpreter, so scripts can do: local host = require("host").
// Every function goes through the bridge's permission checks; a denied
// call surfaces as a Lua error the script can pcall.
func InstallLuaModule(L *glua.LState, b *Bridge) error {
	conv := ilua.NewBridge(L)

	fns := map[string]glua.LGFunction{
		"devices": func(L *glua.LState) int {
			devices, err := b.Devices(callContext(L))
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			t := L.NewTable()
			for i, d := range devices {
				t.RawSetInt(i+1, conv.ToLuaValue(deviceToMap(d)))
			}
			L.Push(t)
			return 1
		},
		"update_device": func(L *glua.LState) int {
			id := L.CheckString(1)
			fields := conv.ToGoMap(L.CheckTable(2))
			if err := b.UpdateDevice(callContext(L), id, fields); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(glua.LTrue)
			return 1
		},
		"read_file": func(L *glua.LState) int {
			name := L.CheckString(1)
			data, err := b.ReadFile(name)
			if err != nil {
				L.Push(glua.LNil)
				L.Push(glua.LString(err.Error()))
				return 2
			}
			L.Push(glua.LString(data))
			return 1
		},
		"write_file": func(L *glua.LState) int {
			name := L.CheckString(1)
			content := L.CheckString(2)
			if err := b.WriteFile(name, []byte(content)); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(glua.LTrue)
			return 1
		},
		"query_ai": func(L *glua.LState) int {
			prompt := L.CheckString(1)
			answer, err := b.QueryModel(callContext(L), prompt)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(glua.LString(answer))
			return 1
		},
		"register_endpoint": func(L *glua.LState) int {
			path := L.CheckString(1)
			method := L.CheckString(2)
			action := L.OptString(3, "handle_request")
			if err := b.RegisterEndpoint(path, method, action); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(glua.LTrue)
			return 1
		},
		"register_ui": func(L *glua.LState) int {
			componentID := L.CheckString(1)
			title := L.OptString(2, componentID)
			action := L.OptString(3, "render")
			if err := b.RegisterUI(componentID, title, action); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(glua.LTrue)
			return 1
		},
		"emit": func(L *glua.LState) int {
			event := L.CheckString(1)
			var payload map[string]any
			if L.GetTop() >= 2 {
				payload = conv.ToGoMap(L.CheckTable(2))
			}
			b.Emit(callContext(L), event, payload)
			return 0
		},
		"log": func(L *glua.LState) int {
			msg := L.CheckString(1)
			b.host.log.Info().Str("plugin", b.PluginID()).Msg(msg)
			return 0
		},
	}

	L.PreloadModule(ilua.HostModuleName, func(L *glua.LState) int {
		mod := L.SetFuncs(L.NewTable(), fns)
		L.Push(mod)
		return 1
	})
	return nil
}

// callContext returns the interpreter's bound context, which carries
// the call deadline set by the lifecycle manager.
func callContext(L *glua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// deviceToMap flattens a Device for table conversion.
func deviceToMap(d Device) map[string]any {
	m := map[string]any{
		"id":       d.ID,
		"hostname": d.Hostname,
		"address":  d.Address,
		"online":   d.Online,
	}
	if d.Meta != nil {
		m["meta"] = d.Meta
	}
	return m
}
