// Package plugin implements the extension runtime: manifest discovery
// and validation, dependency-ordered loading, sandboxed execution,
// lifecycle management, and the hook/event surface plugins attach to.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/extrun/extrun/internal/plugin/api"
)

// Plugin is the contract every plugin instance fulfills. Script
// plugins are adapted to it by the lua package; built-in plugins
// implement it directly.
type Plugin interface {
	// Initialize prepares the plugin with its persisted configuration.
	// A plugin only becomes active if this returns nil.
	Initialize(ctx context.Context, config map[string]any) error

	// Execute runs a named action with parameters.
	Execute(ctx context.Context, action string, params map[string]any) (any, error)

	// Cleanup releases the plugin's resources before unload.
	Cleanup(ctx context.Context) error

	// Status returns the plugin's self-reported status.
	Status(ctx context.Context) (map[string]any, error)
}

// Constructor builds a built-in plugin instance. The bridge carries
// the capability grants from the plugin's manifest.
type Constructor func(bridge *api.Bridge) (Plugin, error)

// Builtins is the explicit entry-point table for compiled-in plugins.
// A manifest whose entry_point is not a .lua script must name a
// registered constructor here.
type Builtins struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewBuiltins creates an empty constructor table.
func NewBuiltins() *Builtins {
	return &Builtins{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under an entry-point name.
func (b *Builtins) Register(entryPoint string, ctor Constructor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.constructors[entryPoint]; exists {
		return fmt.Errorf("entry point %q already registered", entryPoint)
	}
	b.constructors[entryPoint] = ctor
	return nil
}

// New builds an instance for the entry point.
func (b *Builtins) New(entryPoint string, bridge *api.Bridge) (Plugin, error) {
	b.mu.RLock()
	ctor, ok := b.constructors[entryPoint]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryPointUnknown, entryPoint)
	}
	return ctor(bridge)
}

// Has reports whether an entry point is registered.
func (b *Builtins) Has(entryPoint string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.constructors[entryPoint]
	return ok
}
