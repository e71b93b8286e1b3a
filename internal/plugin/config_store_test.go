package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cs, err := NewConfigStore(path)
	require.NoError(t, err)

	assert.Empty(t, cs.Get("unknown"))

	require.NoError(t, cs.Set("mapper", "interval", 30))
	require.NoError(t, cs.Set("mapper", "subnet", "10.0.0.0/24"))
	require.NoError(t, cs.Set("other", "enabled", true))

	got := cs.Get("mapper")
	assert.Equal(t, float64(30), got["interval"])
	assert.Equal(t, "10.0.0.0/24", got["subnet"])

	// Persisted state survives reopening the store.
	reopened, err := NewConfigStore(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", reopened.Get("mapper")["subnet"])
	assert.Equal(t, true, reopened.Get("other")["enabled"])
}

func TestConfigStoreReplaceAndDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cs, err := NewConfigStore(path)
	require.NoError(t, err)

	require.NoError(t, cs.Set("p", "a", 1))
	require.NoError(t, cs.Replace("p", map[string]any{"b": "only"}))

	got := cs.Get("p")
	assert.NotContains(t, got, "a")
	assert.Equal(t, "only", got["b"])

	require.NoError(t, cs.Delete("p"))
	assert.Empty(t, cs.Get("p"))
}

func TestConfigStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewConfigStore(path)
	assert.Error(t, err)
}

func TestConfigStoreInMemory(t *testing.T) {
	cs, err := NewConfigStore("")
	require.NoError(t, err)

	require.NoError(t, cs.Set("p", "k", "v"))
	assert.Equal(t, "v", cs.Get("p")["k"])
}
