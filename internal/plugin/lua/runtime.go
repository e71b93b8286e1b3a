// Package lua embeds a restricted gopher-lua interpreter for running
// sandboxed plugin scripts. Each plugin owns one Runtime; the sandbox
// controls which modules the script may require and every call runs
// under a context deadline.
package lua

import (
	"context"
	"fmt"
	"sync"

	glua "github.com/yuin/gopher-lua"

	"github.com/extrun/extrun/internal/plugin/sandbox"
)

// Runtime wraps a gopher-lua state with sandboxing and deadline
// support.
//
// gopher-lua states are not goroutine-safe. The mutex serializes all
// access from Go; Lua execution itself is single-threaded.
type Runtime struct {
	mu sync.Mutex

	L       *glua.LState
	sandbox *Sandbox
	closed  bool
}

// NewRuntime creates a sandboxed runtime. Only the base, table, string,
// and math libraries are opened; everything else goes through the
// sandbox's require interceptor.
func NewRuntime(limits sandbox.Limits) *Runtime {
	L := glua.NewState(glua.Options{
		SkipOpenLibs: true,
	})

	openSafeLibraries(L)

	sb := NewSandbox(L, limits.AllowedModules)
	sb.Install()

	return &Runtime{L: L, sandbox: sb}
}

// openSafeLibraries opens only safe Lua standard libraries.
// io, os, and debug stay closed. The package library is needed for
// require() and module preloading; the sandbox clears its load paths
// and wraps require with the allow-list interceptor.
func openSafeLibraries(L *glua.LState) {
	glua.OpenPackage(L)
	glua.OpenBase(L)
	glua.OpenTable(L)
	glua.OpenString(L)
	glua.OpenMath(L)
}

// LoadFile executes a Lua file in the runtime.
func (r *Runtime) LoadFile(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRuntimeClosed
	}

	return r.withContext(ctx, func() error {
		return r.L.DoFile(path)
	})
}

// HasGlobalFunction reports whether name is a global Lua function.
func (r *Runtime) HasGlobalFunction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	return r.L.GetGlobal(name).Type() == glua.LTFunction
}

// CallGlobal calls a global Lua function under the given context.
// Returns an empty slice (not nil) if the function returns no values.
func (r *Runtime) CallGlobal(ctx context.Context, name string, args ...glua.LValue) ([]glua.LValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRuntimeClosed
	}

	fnVal := r.L.GetGlobal(name)
	if fnVal.Type() != glua.LTFunction {
		return nil, fmt.Errorf("%w: %q", ErrFunctionNotFound, name)
	}

	// Record stack top before pushing anything.
	stackTop := r.L.GetTop()

	r.L.Push(fnVal)
	for _, arg := range args {
		r.L.Push(arg)
	}

	callErr := r.withContext(ctx, func() error {
		return r.L.PCall(len(args), glua.MultRet, nil)
	})
	if callErr != nil {
		// A failed PCall may leave arguments or partial results behind.
		if top := r.L.GetTop(); top > stackTop {
			r.L.Pop(top - stackTop)
		}
		return nil, callErr
	}

	// Collect only the values added after the call.
	nRet := r.L.GetTop() - stackTop
	if nRet <= 0 {
		return []glua.LValue{}, nil
	}
	results := make([]glua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = r.L.Get(stackTop + i + 1)
	}
	r.L.Pop(nRet)

	return results, nil
}

// withContext runs fn with the runtime bound to ctx, restoring the
// previous context on every exit path including panics.
func (r *Runtime) withContext(ctx context.Context, fn func() error) (err error) {
	prev := r.L.Context()
	r.L.SetContext(ctx)

	defer func() {
		if prev != nil {
			r.L.SetContext(prev)
		} else {
			r.L.RemoveContext()
		}
		if rec := recover(); rec != nil {
			err = fmt.Errorf("lua panic: %v", rec)
		}
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}()

	return fn()
}

// LState exposes the underlying interpreter for module injection.
// Callers must hold no expectations about locking; injection happens
// before the script runs.
func (r *Runtime) LState() *glua.LState {
	return r.L
}

// Close releases the interpreter. Subsequent calls return
// ErrRuntimeClosed.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.L.Close()
	r.closed = true
}
