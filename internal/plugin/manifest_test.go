package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extrun/extrun/internal/plugin/security"
)

func TestParseManifestDefaults(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": "net-mapper",
		"name": "Network Mapper",
		"version": "1.2.3",
		"entry_point": "main.lua"
	}`))
	require.NoError(t, err)

	assert.True(t, m.SandboxEnabled, "sandbox defaults on")
	assert.Equal(t, DefaultPriority, m.Priority)
	assert.True(t, m.IsScript())
}

func TestParseManifestExplicitValues(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": "trusted",
		"name": "Trusted",
		"version": "0.1.0",
		"entry_point": "main.lua",
		"priority": 5,
		"sandbox_enabled": false,
		"permissions": ["network_read", "ai_query"],
		"dependencies": ["net-mapper"]
	}`))
	require.NoError(t, err)

	assert.False(t, m.SandboxEnabled)
	assert.Equal(t, 5, m.Priority)
	assert.True(t, m.HasPermission(security.PermNetworkRead))
	assert.True(t, m.HasPermission(security.PermAIQuery))
	assert.False(t, m.HasPermission(security.PermFileWrite))
}

func TestParseManifestValidation(t *testing.T) {
	tests := []struct {
		name string
		json string
		want error
	}{
		{
			name: "missing id",
			json: `{"name": "X", "version": "1.0.0", "entry_point": "main.lua"}`,
			want: ErrMissingID,
		},
		{
			name: "uppercase id",
			json: `{"id": "BadName", "name": "X", "version": "1.0.0", "entry_point": "main.lua"}`,
			want: ErrInvalidID,
		},
		{
			name: "trailing hyphen id",
			json: `{"id": "bad-", "name": "X", "version": "1.0.0", "entry_point": "main.lua"}`,
			want: ErrInvalidID,
		},
		{
			name: "missing name",
			json: `{"id": "x", "version": "1.0.0", "entry_point": "main.lua"}`,
			want: ErrMissingName,
		},
		{
			name: "missing version",
			json: `{"id": "x", "name": "X", "entry_point": "main.lua"}`,
			want: ErrMissingVersion,
		},
		{
			name: "bad version",
			json: `{"id": "x", "name": "X", "version": "one", "entry_point": "main.lua"}`,
			want: ErrInvalidVersion,
		},
		{
			name: "missing entry point",
			json: `{"id": "x", "name": "X", "version": "1.0.0"}`,
			want: ErrMissingEntryPoint,
		},
		{
			name: "unknown permission",
			json: `{"id": "x", "name": "X", "version": "1.0.0", "entry_point": "main.lua", "permissions": ["root_access"]}`,
			want: ErrInvalidPermission,
		},
		{
			name: "self dependency",
			json: `{"id": "x", "name": "X", "version": "1.0.0", "entry_point": "main.lua", "dependencies": ["x"]}`,
			want: ErrSelfDependency,
		},
		{
			name: "malformed json",
			json: `{`,
			want: ErrManifestInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.json))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrManifestInvalid)
		})
	}
}

func TestParseManifestSemverVariants(t *testing.T) {
	for _, version := range []string{"1.0.0", "0.0.1", "2.10.3-beta.1", "1.0.0+build.5"} {
		_, err := ParseManifest([]byte(`{
			"id": "v", "name": "V", "version": "` + version + `", "entry_point": "main.lua"
		}`))
		assert.NoError(t, err, version)
	}
}

func TestValidateBatchDuplicates(t *testing.T) {
	a := &Manifest{ID: "dup", Name: "A", Version: "1.0.0", EntryPoint: "main.lua"}
	b := &Manifest{ID: "dup", Name: "B", Version: "2.0.0", EntryPoint: "main.lua"}
	c := &Manifest{ID: "solo", Name: "C", Version: "1.0.0", EntryPoint: "main.lua"}

	err := ValidateBatch([]*Manifest{a, b, c})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)

	assert.NoError(t, ValidateBatch([]*Manifest{a, c}))
}

func TestLoadManifestSetsDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{
		"id": "located", "name": "L", "version": "1.0.0", "entry_point": "run.lua"
	}`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, dir, m.Dir())
	assert.Equal(t, filepath.Join(dir, "run.lua"), m.ScriptPath())
}

func TestManifestClone(t *testing.T) {
	m := &Manifest{
		ID:           "orig",
		Name:         "Orig",
		Version:      "1.0.0",
		EntryPoint:   "main.lua",
		Dependencies: []string{"dep"},
		Permissions:  []security.Permission{security.PermFileRead},
	}

	clone := m.Clone()
	clone.Dependencies[0] = "changed"
	clone.Permissions[0] = security.PermFileWrite

	assert.Equal(t, "dep", m.Dependencies[0])
	assert.Equal(t, security.PermFileRead, m.Permissions[0])
}
