package lua

import "errors"

// Runtime errors.
var (
	// ErrRuntimeClosed is returned when using a closed runtime.
	ErrRuntimeClosed = errors.New("lua runtime is closed")

	// ErrFunctionNotFound is returned when a required global function
	// is missing from the plugin script.
	ErrFunctionNotFound = errors.New("lua function not found")

	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("lua call timed out")
)
