package plugin

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plugin_paths:
  - /opt/extrun/plugins
data_dir: /var/lib/extrun
execution_timeout: 10s
memory_limit_mb: 50
enforce_memory_limit: true
allowed_modules:
  - json
`), 0o644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/opt/extrun/plugins"}, opts.PluginPaths)
	assert.Equal(t, 10*time.Second, opts.ExecutionTimeout)
	assert.True(t, opts.EnforceMemoryLimit)

	limits := opts.Limits()
	assert.Equal(t, uint64(50*1024*1024), limits.MemoryLimitBytes)
	assert.Equal(t, []string{"json"}, limits.AllowedModules)

	assert.Equal(t, filepath.Join("/var/lib/extrun", "plugin-config.json"), opts.ConfigStorePath())
	assert.Equal(t, filepath.Join("/var/lib/extrun", "plugin-data", "mapper"), opts.PluginDataDir("mapper"))
}

func TestLoadOptionsPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory_limit_mb: 10\n"), 0o644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)

	assert.Equal(t, 10, opts.MemoryLimitMB)
	assert.Equal(t, 30*time.Second, opts.ExecutionTimeout, "omitted fields keep defaults")
}

func TestLoadOptionsMissingFile(t *testing.T) {
	_, err := LoadOptions(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
