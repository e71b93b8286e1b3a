// Package bus implements the hook and event system plugins use to
// react to host activity. Callbacks run in registration order and are
// isolated from each other: one failing or panicking callback never
// stops the rest.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Callback is a hook or event handler owned by a plugin.
type Callback func(ctx context.Context, args map[string]any) (any, error)

// EligibilityFunc decides whether a plugin's callbacks run. The
// lifecycle manager supplies one that checks for active-and-enabled.
type EligibilityFunc func(pluginID string) bool

// Result is the outcome of one callback invocation.
type Result struct {
	Registration string
	Plugin       string
	Value        any
	Err          error
}

// registration is one callback bound to a hook name.
type registration struct {
	id     string
	hook   string
	plugin string
	cb     Callback
}

// Bus routes hook dispatches and event emissions to registered plugin
// callbacks.
type Bus struct {
	mu sync.RWMutex

	// Registrations per hook, in registration order.
	hooks map[string][]*registration

	log zerolog.Logger
}

// New creates an empty bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		hooks: make(map[string][]*registration),
		log:   log,
	}
}

// Register binds a callback to a hook on behalf of a plugin and
// returns the registration id.
func (b *Bus) Register(hook, pluginID string, cb Callback) (string, error) {
	if hook == "" {
		return "", fmt.Errorf("hook name is required")
	}
	if cb == nil {
		return "", fmt.Errorf("callback is required")
	}

	reg := &registration{
		id:     uuid.NewString(),
		hook:   hook,
		plugin: pluginID,
		cb:     cb,
	}

	b.mu.Lock()
	b.hooks[hook] = append(b.hooks[hook], reg)
	b.mu.Unlock()

	return reg.id, nil
}

// Unregister removes a single registration by id.
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for hook, regs := range b.hooks {
		for i, reg := range regs {
			if reg.id == id {
				b.hooks[hook] = append(regs[:i], regs[i+1:]...)
				return
			}
		}
	}
}

// RemovePlugin removes every registration owned by a plugin. Called on
// unload so a dead plugin can never be dispatched to.
func (b *Bus) RemovePlugin(pluginID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for hook, regs := range b.hooks {
		kept := regs[:0]
		for _, reg := range regs {
			if reg.plugin != pluginID {
				kept = append(kept, reg)
			}
		}
		b.hooks[hook] = kept
	}
}

// Count returns the number of registrations for a hook.
func (b *Bus) Count(hook string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.hooks[hook])
}

// Dispatch invokes all eligible callbacks for a hook in registration
// order. Every callback runs regardless of earlier failures; the
// returned slice carries one Result per invoked callback.
func (b *Bus) Dispatch(ctx context.Context, hook string, args map[string]any, eligible EligibilityFunc) []Result {
	return b.invoke(ctx, hook, args, eligible, "")
}

// Emit broadcasts an event to all eligible callbacks except those of
// the emitting plugin.
func (b *Bus) Emit(ctx context.Context, event string, payload map[string]any, source string, eligible EligibilityFunc) []Result {
	return b.invoke(ctx, event, payload, eligible, source)
}

// invoke runs the callbacks for a hook against a snapshot of the
// registration list, outside the bus lock.
func (b *Bus) invoke(ctx context.Context, hook string, args map[string]any, eligible EligibilityFunc, skipPlugin string) []Result {
	b.mu.RLock()
	regs := make([]*registration, len(b.hooks[hook]))
	copy(regs, b.hooks[hook])
	b.mu.RUnlock()

	results := make([]Result, 0, len(regs))
	for _, reg := range regs {
		if skipPlugin != "" && reg.plugin == skipPlugin {
			continue
		}
		if eligible != nil && !eligible(reg.plugin) {
			continue
		}

		res := Result{Registration: reg.id, Plugin: reg.plugin}
		res.Value, res.Err = b.safeCall(ctx, reg.cb, args)
		if res.Err != nil {
			b.log.Warn().
				Str("hook", hook).
				Str("plugin", reg.plugin).
				Err(res.Err).
				Msg("hook callback failed")
		}
		results = append(results, res)
	}
	return results
}

// safeCall invokes a callback with panic recovery.
func (b *Bus) safeCall(ctx context.Context, cb Callback, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(ctx, args)
}
