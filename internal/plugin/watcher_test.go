package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const versionScriptV1 = `
function initialize(config) return true end
function execute(action, params) return "v1" end
function cleanup() return true end
function get_status() return {} end
`

const versionScriptV2 = `
function initialize(config) return true end
function execute(action, params) return "v2" end
function cleanup() return true end
function get_status() return {} end
`

func TestWatcherReloadsOnScriptChange(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "hot", map[string]any{}, versionScriptV1)
	m := newTestManager(t, root, nil)
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "hot"))

	out, err := m.Execute(ctx, "hot", "version", nil)
	require.NoError(t, err)
	require.Equal(t, "v1", out)

	w, err := NewWatcher(m, m.log)
	require.NoError(t, err)
	w.Start(ctx)
	defer w.Stop()

	script := filepath.Join(root, "hot", "main.lua")
	require.NoError(t, os.WriteFile(script, []byte(versionScriptV2), 0o644))

	// The debounced reload should swap in the new incarnation.
	require.Eventually(t, func() bool {
		out, err := m.Execute(ctx, "hot", "version", nil)
		return err == nil && out == "v2"
	}, 10*time.Second, 100*time.Millisecond)
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "calm", map[string]any{}, counterScript)
	m := newTestManager(t, root, nil)
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "calm"))

	out, err := m.Execute(ctx, "calm", "tick", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), out)

	w, err := NewWatcher(m, m.log)
	require.NoError(t, err)
	w.Start(ctx)
	defer w.Stop()

	// Not a manifest or script: must not trigger a reload.
	require.NoError(t, os.WriteFile(filepath.Join(root, "calm", "notes.txt"), []byte("x"), 0o644))
	time.Sleep(2 * watchDebounce)

	// Counter survives, so no fresh incarnation happened.
	out, err = m.Execute(ctx, "calm", "tick", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), out)
}
