package security

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionValid(t *testing.T) {
	assert.True(t, PermNetworkRead.Valid())
	assert.True(t, PermUIRegister.Valid())
	assert.False(t, Permission("shell_exec").Valid())
	assert.False(t, Permission("").Valid())
}

func TestCheckerGrantRevoke(t *testing.T) {
	c := NewChecker("net-mon")

	assert.False(t, c.Has(PermNetworkRead))
	require.Error(t, c.Check(PermNetworkRead, "list devices"))

	c.Grant(PermNetworkRead)
	assert.True(t, c.Has(PermNetworkRead))
	require.NoError(t, c.Check(PermNetworkRead, "list devices"))

	c.Revoke(PermNetworkRead)
	assert.False(t, c.Has(PermNetworkRead))
}

func TestCheckerEmptyGrantsDenyEverything(t *testing.T) {
	c := NewChecker("bare")

	for _, p := range All() {
		err := c.Check(p, "op")
		require.Error(t, err, "permission %s should be denied", p)

		var perr *PermissionError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "bare", perr.Plugin)
		assert.Equal(t, p, perr.Permission)
	}
}

func TestCheckerFileAccessConfinedToDataDir(t *testing.T) {
	dataDir := t.TempDir()

	c := NewChecker("fs-plugin")
	c.GrantAll([]Permission{PermFileRead, PermFileWrite})
	c.SetDataDir(dataDir)

	require.NoError(t, c.CheckFileRead(filepath.Join(dataDir, "notes.txt")))
	require.NoError(t, c.CheckFileWrite(filepath.Join(dataDir, "sub", "out.log")))

	require.Error(t, c.CheckFileRead("/etc/passwd"))
	require.Error(t, c.CheckFileWrite(filepath.Join(dataDir, "..", "escape.txt")))

	// Sibling dir sharing a name prefix must not match.
	require.Error(t, c.CheckFileRead(dataDir+"-other/file.txt"))
}

func TestCheckerBlockedPathWinsOverAllowed(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "secret")

	c := NewChecker("fs-plugin")
	c.Grant(PermFileRead)
	c.AllowPath(dir)
	c.BlockPath(secret)

	require.NoError(t, c.CheckFileRead(filepath.Join(dir, "ok.txt")))
	require.Error(t, c.CheckFileRead(filepath.Join(secret, "key.pem")))
}

func TestCheckerNetworkHostScoping(t *testing.T) {
	c := NewChecker("poller")
	c.Grant(PermNetworkRead)
	c.AllowHost("*.internal.example.com")
	c.BlockHost("db.internal.example.com")

	require.NoError(t, c.CheckNetwork(PermNetworkRead, "api.internal.example.com:443"))
	require.Error(t, c.CheckNetwork(PermNetworkRead, "db.internal.example.com:5432"))
	require.Error(t, c.CheckNetwork(PermNetworkRead, "example.org:80"))

	// Write permission is checked separately from read.
	require.Error(t, c.CheckNetwork(PermNetworkWrite, "api.internal.example.com:443"))
}
