package plugin

// State is the lifecycle state of a plugin.
type State int

// Plugin lifecycle states.
const (
	// StateDiscovered - manifest found, not yet validated.
	StateDiscovered State = iota

	// StateValidated - manifest passed validation.
	StateValidated

	// StateLoading - instantiation and initialize in progress.
	StateLoading

	// StateActive - initialized and eligible for dispatch.
	StateActive

	// StateDisabled - loaded but excluded from dispatch.
	StateDisabled

	// StateError - load or a later operation failed.
	StateError

	// StateUnloaded - cleaned up; terminal for this incarnation.
	StateUnloaded
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateValidated:
		return "validated"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	case StateError:
		return "error"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// Loaded reports whether the plugin holds a live instance.
func (s State) Loaded() bool {
	return s == StateLoading || s == StateActive || s == StateDisabled
}
