package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/extrun/extrun/internal/plugin/security"
)

// Bridge is one plugin's view of the host API. Every method checks the
// plugin's granted permissions before touching host services; the
// checks are independent of whatever the execution sandbox allows.
type Bridge struct {
	host    *Host
	checker *security.Checker
	dataDir string
}

// NewBridge creates a bridge for one plugin. dataDir is the plugin's
// private directory for file_read/file_write; it scopes the checker.
func NewBridge(host *Host, checker *security.Checker, dataDir string) *Bridge {
	if dataDir != "" {
		checker.SetDataDir(dataDir)
	}
	return &Bridge{host: host, checker: checker, dataDir: dataDir}
}

// PluginID returns the plugin this bridge serves.
func (b *Bridge) PluginID() string {
	return b.checker.PluginID()
}

// Devices returns the host's device inventory. Requires network_read.
func (b *Bridge) Devices(ctx context.Context) ([]Device, error) {
	if err := b.checker.Check(security.PermNetworkRead, "list devices"); err != nil {
		return nil, err
	}
	return b.host.devices(ctx)
}

// UpdateDevice mutates a device record. Requires network_write.
func (b *Bridge) UpdateDevice(ctx context.Context, id string, fields map[string]any) error {
	if err := b.checker.Check(security.PermNetworkWrite, "update device"); err != nil {
		return err
	}
	return b.host.updateDevice(ctx, id, fields)
}

// ReadFile reads a file from the plugin data dir. Requires file_read.
func (b *Bridge) ReadFile(name string) ([]byte, error) {
	path := b.resolve(name)
	if err := b.checker.CheckFileRead(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// WriteFile writes a file into the plugin data dir. Requires
// file_write. Parent directories are created as needed.
func (b *Bridge) WriteFile(name string, data []byte) error {
	path := b.resolve(name)
	if err := b.checker.CheckFileWrite(path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// QueryModel submits a prompt to the host's AI backend. Requires
// ai_query.
func (b *Bridge) QueryModel(ctx context.Context, prompt string) (string, error) {
	if err := b.checker.Check(security.PermAIQuery, "query model"); err != nil {
		return "", err
	}
	return b.host.queryModel(ctx, prompt)
}

// RegisterEndpoint records an HTTP endpoint descriptor. Requires
// endpoint_register.
func (b *Bridge) RegisterEndpoint(path, method, action string) error {
	if err := b.checker.Check(security.PermEndpointRegister, "register endpoint"); err != nil {
		return err
	}
	if path == "" || method == "" {
		return fmt.Errorf("endpoint path and method are required")
	}
	b.host.addEndpoint(EndpointDescriptor{
		Plugin: b.PluginID(),
		Path:   path,
		Method: method,
		Action: action,
	})
	return nil
}

// RegisterUI records a UI panel descriptor. Requires ui_register.
func (b *Bridge) RegisterUI(componentID, title, action string) error {
	if err := b.checker.Check(security.PermUIRegister, "register ui component"); err != nil {
		return err
	}
	if componentID == "" {
		return fmt.Errorf("component id is required")
	}
	b.host.addUI(UIDescriptor{
		Plugin:      b.PluginID(),
		ComponentID: componentID,
		Title:       title,
		Action:      action,
	})
	return nil
}

// Emit broadcasts an event to other plugins through the host's event
// bus. Emission needs no permission; delivery skips the source plugin.
func (b *Bridge) Emit(ctx context.Context, event string, payload map[string]any) {
	b.host.emitEvent(ctx, event, payload, b.PluginID())
}

// resolve maps a plugin-relative name into the data dir. Absolute
// names are kept as-is and left to the checker to reject or allow.
func (b *Bridge) resolve(name string) string {
	if filepath.IsAbs(name) || b.dataDir == "" {
		return name
	}
	return filepath.Join(b.dataDir, name)
}
