package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConfigStore persists per-plugin configuration as a single JSON
// document keyed by plugin id. Configuration survives unload and
// reload: a fresh incarnation initializes from what the store holds.
type ConfigStore struct {
	mu   sync.Mutex
	path string
	raw  []byte
}

// NewConfigStore opens (or creates) the store at path.
func NewConfigStore(path string) (*ConfigStore, error) {
	cs := &ConfigStore{path: path, raw: []byte("{}")}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("config store %s: invalid JSON", path)
		}
		cs.raw = data
	case os.IsNotExist(err):
		// First run, empty document.
	default:
		return nil, fmt.Errorf("config store: %w", err)
	}

	return cs, nil
}

// Get returns the configuration for a plugin. Missing plugins get an
// empty map.
func (cs *ConfigStore) Get(pluginID string) map[string]any {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	result := gjson.GetBytes(cs.raw, pluginID)
	if m, ok := result.Value().(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Set writes one configuration key for a plugin and persists.
func (cs *ConfigStore) Set(pluginID, key string, value any) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	updated, err := sjson.SetBytes(cs.raw, pluginID+"."+key, value)
	if err != nil {
		return fmt.Errorf("config store set %s.%s: %w", pluginID, key, err)
	}
	cs.raw = updated
	return cs.persist()
}

// Replace overwrites a plugin's whole configuration and persists.
func (cs *ConfigStore) Replace(pluginID string, config map[string]any) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	updated, err := sjson.SetBytes(cs.raw, pluginID, config)
	if err != nil {
		return fmt.Errorf("config store replace %s: %w", pluginID, err)
	}
	cs.raw = updated
	return cs.persist()
}

// Delete removes a plugin's configuration and persists.
func (cs *ConfigStore) Delete(pluginID string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	updated, err := sjson.DeleteBytes(cs.raw, pluginID)
	if err != nil {
		return fmt.Errorf("config store delete %s: %w", pluginID, err)
	}
	cs.raw = updated
	return cs.persist()
}

// persist writes the document atomically. Caller holds the lock.
func (cs *ConfigStore) persist() error {
	if cs.path == "" {
		return nil // in-memory store
	}
	if err := os.MkdirAll(filepath.Dir(cs.path), 0o755); err != nil {
		return fmt.Errorf("config store persist: %w", err)
	}

	tmp := cs.path + ".tmp"
	if err := os.WriteFile(tmp, cs.raw, 0o644); err != nil {
		return fmt.Errorf("config store persist: %w", err)
	}
	if err := os.Rename(tmp, cs.path); err != nil {
		return fmt.Errorf("config store persist: %w", err)
	}
	return nil
}
