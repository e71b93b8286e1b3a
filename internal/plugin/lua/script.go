package lua

import (
	"context"
	"errors"
	"fmt"

	glua "github.com/yuin/gopher-lua"

	"github.com/extrun/extrun/internal/plugin/sandbox"
)

// requiredFunctions are the globals every plugin script must define.
var requiredFunctions = []string{"initialize", "execute", "cleanup", "get_status"}

// ErrContractIncomplete is returned when a script is missing one of the
// required lifecycle functions.
var ErrContractIncomplete = errors.New("plugin script does not implement the required contract")

// InstallFunc injects host modules into the interpreter before the
// plugin script runs.
type InstallFunc func(L *glua.LState) error

// ScriptPlugin adapts a sandboxed Lua script to the plugin contract.
// The script must define initialize(config), execute(action, params),
// cleanup(), and get_status() as globals.
type ScriptPlugin struct {
	id string
	rt *Runtime
	br *Bridge
}

// NewScriptPlugin creates a runtime, injects the host module, loads the
// script, and verifies the contract. On any failure the runtime is
// closed and nothing is retained.
func NewScriptPlugin(ctx context.Context, id, scriptPath string, limits sandbox.Limits, install InstallFunc) (*ScriptPlugin, error) {
	rt := NewRuntime(limits)

	if install != nil {
		if err := install(rt.LState()); err != nil {
			rt.Close()
			return nil, fmt.Errorf("installing host module for %q: %w", id, err)
		}
	}

	if err := rt.LoadFile(ctx, scriptPath); err != nil {
		rt.Close()
		return nil, fmt.Errorf("loading script for %q: %w", id, err)
	}

	for _, fn := range requiredFunctions {
		if !rt.HasGlobalFunction(fn) {
			rt.Close()
			return nil, fmt.Errorf("%w: plugin %q is missing %q", ErrContractIncomplete, id, fn)
		}
	}

	return &ScriptPlugin{id: id, rt: rt, br: NewBridge(rt.LState())}, nil
}

// ID returns the plugin id the script was loaded for.
func (p *ScriptPlugin) ID() string {
	return p.id
}

// Initialize calls the script's initialize(config) function. A thrown
// error or a false return fails initialization.
func (p *ScriptPlugin) Initialize(ctx context.Context, config map[string]any) error {
	results, err := p.rt.CallGlobal(ctx, "initialize", p.br.ToLuaValue(config))
	if err != nil {
		return err
	}
	if len(results) > 0 && results[0] == glua.LFalse {
		return fmt.Errorf("plugin %q: initialize returned false", p.id)
	}
	return nil
}

// Execute calls the script's execute(action, params) function. Scripts
// report failure with the (nil, message) convention.
func (p *ScriptPlugin) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	results, err := p.rt.CallGlobal(ctx, "execute", glua.LString(action), p.br.ToLuaValue(params))
	if err != nil {
		return nil, err
	}
	if len(results) >= 2 && results[0] == glua.LNil {
		if msg, ok := results[1].(glua.LString); ok {
			return nil, fmt.Errorf("plugin %q: %s", p.id, string(msg))
		}
	}
	if len(results) == 0 {
		return nil, nil
	}
	return p.br.ToGoValue(results[0]), nil
}

// Cleanup calls the script's cleanup() function.
func (p *ScriptPlugin) Cleanup(ctx context.Context) error {
	results, err := p.rt.CallGlobal(ctx, "cleanup")
	if err != nil {
		return err
	}
	if len(results) > 0 && results[0] == glua.LFalse {
		return fmt.Errorf("plugin %q: cleanup returned false", p.id)
	}
	return nil
}

// Status calls the script's get_status() function and returns its table
// as a map.
func (p *ScriptPlugin) Status(ctx context.Context) (map[string]any, error) {
	results, err := p.rt.CallGlobal(ctx, "get_status")
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return map[string]any{}, nil
	}
	if m := p.br.ToGoMap(results[0]); m != nil {
		return m, nil
	}
	return map[string]any{"status": p.br.ToGoValue(results[0])}, nil
}

// Close releases the interpreter.
func (p *ScriptPlugin) Close() {
	p.rt.Close()
}
