package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/extrun/extrun/internal/plugin/security"
)

// ManifestFileName is the file each plugin directory must contain.
const ManifestFileName = "plugin.json"

// DefaultPriority is used when a manifest omits priority. Lower values
// load earlier.
const DefaultPriority = 100

// Manifest describes a plugin's identity, requirements, and grants.
type Manifest struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Version      string                `json:"version"` // semver
	Description  string                `json:"description"`
	Author       string                `json:"author"`
	Dependencies []string              `json:"dependencies"`
	Permissions  []security.Permission `json:"permissions"`

	// EntryPoint is either a sandboxed Lua script relative to the
	// plugin directory (anything ending in .lua) or the name of a
	// registered built-in constructor.
	EntryPoint string `json:"entry_point"`

	// Priority orders loading among plugins with no dependency
	// relation. Lower loads earlier.
	Priority int `json:"priority"`

	// SandboxEnabled controls the static source scan and restricted
	// execution. Defaults to true.
	SandboxEnabled bool `json:"sandbox_enabled"`

	// Dir is the plugin directory the manifest was loaded from.
	dir string
}

// Validation errors, all wrapping ErrManifestInvalid.
var (
	ErrMissingID         = fmt.Errorf("%w: id is required", ErrManifestInvalid)
	ErrInvalidID         = fmt.Errorf("%w: id must be lowercase alphanumeric with hyphens", ErrManifestInvalid)
	ErrMissingName       = fmt.Errorf("%w: name is required", ErrManifestInvalid)
	ErrMissingVersion    = fmt.Errorf("%w: version is required", ErrManifestInvalid)
	ErrInvalidVersion    = fmt.Errorf("%w: version must be valid semver", ErrManifestInvalid)
	ErrMissingEntryPoint = fmt.Errorf("%w: entry_point is required", ErrManifestInvalid)
	ErrInvalidPermission = fmt.Errorf("%w: unknown permission", ErrManifestInvalid)
	ErrSelfDependency    = fmt.Errorf("%w: plugin depends on itself", ErrManifestInvalid)
	ErrDuplicateID       = fmt.Errorf("%w: duplicate plugin id", ErrManifestInvalid)
)

// idPattern validates plugin ids.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes and validates manifest JSON.
func ParseManifest(data []byte) (*Manifest, error) {
	// sandbox_enabled defaults to true, so absence must be
	// distinguishable from an explicit false.
	type rawManifest struct {
		Manifest
		SandboxEnabled *bool `json:"sandbox_enabled"`
		Priority       *int  `json:"priority"`
	}

	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}

	m := raw.Manifest
	m.SandboxEnabled = raw.SandboxEnabled == nil || *raw.SandboxEnabled
	if raw.Priority != nil {
		m.Priority = *raw.Priority
	} else {
		m.Priority = DefaultPriority
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest against the schema.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, m.ID)
	}
	if m.Name == "" {
		return ErrMissingName
	}
	if m.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, m.Version)
	}
	if m.EntryPoint == "" {
		return ErrMissingEntryPoint
	}

	for _, p := range m.Permissions {
		if !p.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidPermission, p)
		}
	}

	for _, dep := range m.Dependencies {
		if dep == m.ID {
			return fmt.Errorf("%w: %q", ErrSelfDependency, m.ID)
		}
	}

	return nil
}

// ValidateBatch checks id uniqueness across a set of manifests.
func ValidateBatch(manifests []*Manifest) error {
	seen := make(map[string]bool, len(manifests))
	var errs []error
	for _, m := range manifests {
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateID, m.ID))
			continue
		}
		seen[m.ID] = true
	}
	return errors.Join(errs...)
}

// Dir returns the plugin directory.
func (m *Manifest) Dir() string {
	return m.dir
}

// IsScript reports whether the entry point is a Lua script.
func (m *Manifest) IsScript() bool {
	return strings.HasSuffix(m.EntryPoint, ".lua")
}

// ScriptPath returns the absolute path of the entry-point script.
func (m *Manifest) ScriptPath() string {
	return filepath.Join(m.dir, m.EntryPoint)
}

// HasPermission reports whether the manifest requests the permission.
func (m *Manifest) HasPermission(p security.Permission) bool {
	for _, granted := range m.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}

// String returns "id v<version>".
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.ID, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m
	if m.Dependencies != nil {
		clone.Dependencies = append([]string(nil), m.Dependencies...)
	}
	if m.Permissions != nil {
		clone.Permissions = append([]security.Permission(nil), m.Permissions...)
	}
	return &clone
}
