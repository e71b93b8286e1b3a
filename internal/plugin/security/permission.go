// Package security implements permission grants and access checks for
// plugins. Every host-facing operation a plugin performs is gated by a
// Checker built from the permissions declared in its manifest.
package security

import "fmt"

// Permission is a capability token a plugin may request in its manifest.
type Permission string

// Known permissions.
const (
	PermNetworkRead      Permission = "network_read"      // read device inventory
	PermNetworkWrite     Permission = "network_write"     // mutate device records
	PermFileRead         Permission = "file_read"         // read files in the plugin data dir
	PermFileWrite        Permission = "file_write"        // write files in the plugin data dir
	PermAIQuery          Permission = "ai_query"          // submit prompts to the host model provider
	PermEndpointRegister Permission = "endpoint_register" // register HTTP endpoint descriptors
	PermUIRegister       Permission = "ui_register"       // register UI panel descriptors
)

// allPermissions is the closed permission vocabulary.
var allPermissions = map[Permission]bool{
	PermNetworkRead:      true,
	PermNetworkWrite:     true,
	PermFileRead:         true,
	PermFileWrite:        true,
	PermAIQuery:          true,
	PermEndpointRegister: true,
	PermUIRegister:       true,
}

// Valid reports whether p is a known permission token.
func (p Permission) Valid() bool {
	return allPermissions[p]
}

// All returns the full permission vocabulary.
func All() []Permission {
	perms := make([]Permission, 0, len(allPermissions))
	for p := range allPermissions {
		perms = append(perms, p)
	}
	return perms
}

// PermissionError is returned when an operation requires a permission the
// plugin was not granted, or when a granted permission does not extend to
// the requested resource.
type PermissionError struct {
	Plugin     string
	Permission Permission
	Operation  string
	Reason     string
}

func (e *PermissionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("plugin %q: operation %q requires %s: %s", e.Plugin, e.Operation, e.Permission, e.Reason)
	}
	return fmt.Sprintf("plugin %q: operation %q requires %s", e.Plugin, e.Operation, e.Permission)
}

// NewPermissionError builds a PermissionError.
func NewPermissionError(plugin string, perm Permission, operation, reason string) *PermissionError {
	return &PermissionError{Plugin: plugin, Permission: perm, Operation: operation, Reason: reason}
}
