package sandbox

import "time"

// Limits defines execution limits for a plugin.
type Limits struct {
	// ExecutionTimeout bounds the wall-clock time of a single plugin
	// call (initialize, execute, cleanup, status).
	ExecutionTimeout time.Duration

	// MemoryLimitBytes is the ceiling on process RSS growth attributed
	// to a plugin call. Advisory unless EnforceMemoryLimit is set.
	MemoryLimitBytes uint64

	// EnforceMemoryLimit turns memory ceiling breaches into errors
	// instead of warnings.
	EnforceMemoryLimit bool

	// AllowedModules are interpreter modules a plugin may require()
	// beyond the built-in safe set.
	AllowedModules []string
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() Limits {
	return Limits{
		ExecutionTimeout:   30 * time.Second,
		MemoryLimitBytes:   100 * 1024 * 1024,
		EnforceMemoryLimit: false,
	}
}

// StrictLimits returns tighter limits for untrusted plugins.
func StrictLimits() Limits {
	return Limits{
		ExecutionTimeout:   5 * time.Second,
		MemoryLimitBytes:   25 * 1024 * 1024,
		EnforceMemoryLimit: true,
	}
}

// ModuleAllowed reports whether a module name is in the allow-list.
func (l Limits) ModuleAllowed(name string) bool {
	for _, m := range l.AllowedModules {
		if m == name {
			return true
		}
	}
	return false
}
