package lua

import (
	glua "github.com/yuin/gopher-lua"
)

// Sandbox restricts what a plugin script can reach inside the
// interpreter: dangerous globals are removed and require() only
// resolves built-in safe modules, the preloaded host module, and
// modules on the configured allow-list.
type Sandbox struct {
	L *glua.LState

	allowed map[string]bool
}

// builtinSafeModules are gopher-lua modules any script may require.
var builtinSafeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// NewSandbox creates a sandbox with the given module allow-list.
func NewSandbox(L *glua.LState, allowedModules []string) *Sandbox {
	allowed := make(map[string]bool, len(allowedModules))
	for _, m := range allowedModules {
		allowed[m] = true
	}
	return &Sandbox{L: L, allowed: allowed}
}

// Install applies the restrictions. Must run before plugin code.
func (s *Sandbox) Install() {
	// Remove globals that bypass the require interceptor.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, glua.LNil)
	}

	s.installRequireInterceptor()
}

// Allow adds a module to the allow-list.
func (s *Sandbox) Allow(module string) {
	s.allowed[module] = true
}

// ModuleAllowed reports whether a module can be required.
func (s *Sandbox) ModuleAllowed(name string) bool {
	return builtinSafeModules[name] || name == HostModuleName || s.allowed[name]
}

// installRequireInterceptor replaces require() with an allow-list
// version and clears package.path/cpath so nothing loads from disk.
// Only preloaded modules (via L.PreloadModule) and built-in safe
// modules remain reachable.
func (s *Sandbox) installRequireInterceptor() {
	pkg := s.L.GetGlobal("package")
	if pkgTable, ok := pkg.(*glua.LTable); ok {
		s.L.SetField(pkgTable, "path", glua.LString(""))
		s.L.SetField(pkgTable, "cpath", glua.LString(""))
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *glua.LState) int {
		modName := L.CheckString(1)

		if !s.ModuleAllowed(modName) {
			L.RaiseError("module %q is not available to plugins", modName)
			return 0 // unreachable, RaiseError does not return
		}

		L.Push(originalRequire)
		L.Push(glua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

// HostModuleName is the module name plugins use to reach the host API:
// local host = require("host").
const HostModuleName = "host"
