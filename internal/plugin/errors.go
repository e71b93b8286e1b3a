package plugin

import "errors"

// Lifecycle error taxonomy. Operations return these wrapped with
// plugin context; the same error is recorded on the plugin's status.
var (
	// ErrManifestInvalid is returned when a manifest fails schema or
	// uniqueness validation.
	ErrManifestInvalid = errors.New("manifest invalid")

	// ErrDependencyUnresolved is returned when a declared dependency is
	// not present in the batch or registry.
	ErrDependencyUnresolved = errors.New("dependency unresolved")

	// ErrCyclicDependency is returned for plugins in a dependency cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrSandboxViolation is returned when the static source scan finds
	// forbidden constructs.
	ErrSandboxViolation = errors.New("sandbox violation")

	// ErrPermissionDenied is returned when a plugin calls a host API it
	// has no permission for.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInitializationFailed is returned when a plugin's initialize
	// reports failure or throws.
	ErrInitializationFailed = errors.New("initialization failed")

	// ErrExecutionTimeout is returned when a plugin call exceeds its
	// wall-clock deadline.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrCleanupFailed is returned when a plugin's cleanup fails during
	// unload.
	ErrCleanupFailed = errors.New("cleanup failed")

	// ErrPluginNotFound is returned when an id is not in the registry.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrPluginNotActive is returned when an operation needs a loaded,
	// active plugin.
	ErrPluginNotActive = errors.New("plugin not active")

	// ErrEntryPointUnknown is returned when a manifest names an entry
	// point with no registered constructor and no script suffix.
	ErrEntryPointUnknown = errors.New("entry point unknown")
)
