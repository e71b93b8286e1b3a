package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/extrun/extrun/internal/plugin/sandbox"
)

// Options configures the runtime. It is loadable from a YAML file; see
// LoadOptions.
type Options struct {
	// PluginPaths are the roots scanned for plugin directories.
	PluginPaths []string `yaml:"plugin_paths"`

	// DataDir is the root under which each plugin gets a private data
	// directory for file permissions and the config store.
	DataDir string `yaml:"data_dir"`

	// ExecutionTimeout bounds each plugin call.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// MemoryLimitMB is the advisory per-call memory ceiling.
	MemoryLimitMB int `yaml:"memory_limit_mb"`

	// EnforceMemoryLimit turns ceiling breaches into errors.
	EnforceMemoryLimit bool `yaml:"enforce_memory_limit"`

	// AllowedModules extends the interpreter module allow-list.
	AllowedModules []string `yaml:"allowed_modules"`

	// WatchForChanges enables the development hot-reload watcher.
	WatchForChanges bool `yaml:"watch_for_changes"`
}

// DefaultOptions returns the options used when no config file is
// given.
func DefaultOptions() Options {
	dataDir := filepath.Join(os.TempDir(), "extrun")
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "extrun")
	}
	return Options{
		PluginPaths:        []string{filepath.Join(dataDir, "plugins")},
		DataDir:            dataDir,
		ExecutionTimeout:   30 * time.Second,
		MemoryLimitMB:      100,
		EnforceMemoryLimit: false,
	}
}

// LoadOptions reads options from a YAML file, filling omitted fields
// from the defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("reading options: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parsing options: %w", err)
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = 30 * time.Second
	}
	return opts, nil
}

// Limits converts the options into sandbox limits.
func (o Options) Limits() sandbox.Limits {
	return sandbox.Limits{
		ExecutionTimeout:   o.ExecutionTimeout,
		MemoryLimitBytes:   uint64(o.MemoryLimitMB) * 1024 * 1024,
		EnforceMemoryLimit: o.EnforceMemoryLimit,
		AllowedModules:     o.AllowedModules,
	}
}

// ConfigStorePath returns where plugin configuration persists.
func (o Options) ConfigStorePath() string {
	if o.DataDir == "" {
		return ""
	}
	return filepath.Join(o.DataDir, "plugin-config.json")
}

// PluginDataDir returns a plugin's private data directory.
func (o Options) PluginDataDir(pluginID string) string {
	if o.DataDir == "" {
		return ""
	}
	return filepath.Join(o.DataDir, "plugin-data", pluginID)
}
