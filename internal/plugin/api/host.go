// Package api is the capability-scoped bridge between plugins and host
// services. A Host holds the services and capability registries shared
// by all plugins; each plugin gets its own Bridge carrying the
// permissions granted by its manifest.
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// Device is one entry in the host's network inventory.
type Device struct {
	ID       string         `json:"id"`
	Hostname string         `json:"hostname"`
	Address  string         `json:"address"`
	Online   bool           `json:"online"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// InventoryService provides access to the host's device inventory.
type InventoryService interface {
	Devices(ctx context.Context) ([]Device, error)
	UpdateDevice(ctx context.Context, id string, fields map[string]any) error
}

// ModelProvider submits prompts to the host's configured AI backend.
type ModelProvider interface {
	Query(ctx context.Context, prompt string) (string, error)
}

// EndpointDescriptor is a plugin's request to expose an HTTP endpoint.
// The runtime only records the descriptor; routing is the host's job.
type EndpointDescriptor struct {
	Plugin string `json:"plugin"`
	Path   string `json:"path"`
	Method string `json:"method"`
	Action string `json:"action"` // execute() action invoked for requests
}

// UIDescriptor is a plugin's request to expose a UI panel.
type UIDescriptor struct {
	Plugin      string `json:"plugin"`
	ComponentID string `json:"component_id"`
	Title       string `json:"title"`
	Action      string `json:"action"` // execute() action that renders the panel
}

// deviceCacheTTL bounds how stale the cached inventory may get.
const deviceCacheTTL = 15 * time.Second

// Host aggregates the services plugins may reach and the descriptor
// tables they register into.
type Host struct {
	mu sync.RWMutex

	inventory InventoryService
	model     ModelProvider
	log       zerolog.Logger

	deviceCache *expirable.LRU[string, []Device]

	endpoints map[string][]EndpointDescriptor // keyed by plugin id
	ui        map[string][]UIDescriptor       // keyed by plugin id

	emit EmitFunc
}

// EmitFunc broadcasts a plugin-originated event to the other plugins.
// The lifecycle manager wires this to the hook/event bus.
type EmitFunc func(ctx context.Context, event string, payload map[string]any, source string)

// SetEmitter wires event broadcasting for plugin-originated events.
func (h *Host) SetEmitter(fn EmitFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emit = fn
}

// emitEvent broadcasts an event on behalf of a plugin. A missing
// emitter makes this a no-op.
func (h *Host) emitEvent(ctx context.Context, event string, payload map[string]any, source string) {
	h.mu.RLock()
	fn := h.emit
	h.mu.RUnlock()

	if fn != nil {
		fn(ctx, event, payload, source)
	}
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithInventory sets the device inventory service.
func WithInventory(inv InventoryService) HostOption {
	return func(h *Host) { h.inventory = inv }
}

// WithModelProvider sets the AI backend.
func WithModelProvider(mp ModelProvider) HostOption {
	return func(h *Host) { h.model = mp }
}

// NewHost creates a Host. Services are optional; bridge calls against
// an absent service fail with a clear error rather than a permission
// error.
func NewHost(log zerolog.Logger, opts ...HostOption) *Host {
	h := &Host{
		log:         log,
		deviceCache: expirable.NewLRU[string, []Device](4, nil, deviceCacheTTL),
		endpoints:   make(map[string][]EndpointDescriptor),
		ui:          make(map[string][]UIDescriptor),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// devices returns the inventory, serving from the expirable cache when
// fresh.
func (h *Host) devices(ctx context.Context) ([]Device, error) {
	if h.inventory == nil {
		return nil, fmt.Errorf("no inventory service configured")
	}

	if cached, ok := h.deviceCache.Get("all"); ok {
		return cached, nil
	}

	devices, err := h.inventory.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory query: %w", err)
	}
	h.deviceCache.Add("all", devices)
	return devices, nil
}

// updateDevice mutates a device record and invalidates the cache.
func (h *Host) updateDevice(ctx context.Context, id string, fields map[string]any) error {
	if h.inventory == nil {
		return fmt.Errorf("no inventory service configured")
	}
	if err := h.inventory.UpdateDevice(ctx, id, fields); err != nil {
		return fmt.Errorf("inventory update: %w", err)
	}
	h.deviceCache.Remove("all")
	return nil
}

// queryModel forwards a prompt to the model provider.
func (h *Host) queryModel(ctx context.Context, prompt string) (string, error) {
	if h.model == nil {
		return "", fmt.Errorf("no model provider configured")
	}
	return h.model.Query(ctx, prompt)
}

// addEndpoint records an endpoint descriptor for a plugin.
func (h *Host) addEndpoint(desc EndpointDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endpoints[desc.Plugin] = append(h.endpoints[desc.Plugin], desc)
}

// addUI records a UI descriptor for a plugin.
func (h *Host) addUI(desc UIDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ui[desc.Plugin] = append(h.ui[desc.Plugin], desc)
}

// RemovePlugin drops every descriptor registered by a plugin. Called on
// unload.
func (h *Host) RemovePlugin(pluginID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, pluginID)
	delete(h.ui, pluginID)
}

// Endpoints returns all registered endpoint descriptors.
func (h *Host) Endpoints() []EndpointDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var all []EndpointDescriptor
	for _, descs := range h.endpoints {
		all = append(all, descs...)
	}
	return all
}

// EndpointsFor returns the endpoint descriptors of one plugin.
func (h *Host) EndpointsFor(pluginID string) []EndpointDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]EndpointDescriptor(nil), h.endpoints[pluginID]...)
}

// UIComponents returns all registered UI descriptors.
func (h *Host) UIComponents() []UIDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var all []UIDescriptor
	for _, descs := range h.ui {
		all = append(all, descs...)
	}
	return all
}

// UIComponentsFor returns the UI descriptors of one plugin.
func (h *Host) UIComponentsFor(pluginID string) []UIDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]UIDescriptor(nil), h.ui[pluginID]...)
}
