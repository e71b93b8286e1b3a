package security

import (
	"net"
	"path/filepath"
	"strings"
	"sync"
)

// Checker validates permissions for a single plugin's operations.
// The zero grant set denies everything.
type Checker struct {
	mu sync.RWMutex

	pluginID string
	granted  map[Permission]bool

	// File system scope (normalized absolute paths). When set, file
	// access is confined to dataDir plus any explicitly allowed paths.
	dataDir      string
	allowedPaths []string
	blockedPaths []string

	// Network scope (lowercased host patterns).
	allowedHosts []string
	blockedHosts []string
}

// NewChecker creates a checker for the named plugin with no grants.
func NewChecker(pluginID string) *Checker {
	return &Checker{
		pluginID: pluginID,
		granted:  make(map[Permission]bool),
	}
}

// PluginID returns the plugin this checker guards.
func (c *Checker) PluginID() string {
	return c.pluginID
}

// Grant grants a permission.
func (c *Checker) Grant(p Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.granted[p] = true
}

// GrantAll grants multiple permissions.
func (c *Checker) GrantAll(perms []Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range perms {
		c.granted[p] = true
	}
}

// Revoke removes a permission grant.
func (c *Checker) Revoke(p Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.granted, p)
}

// Has reports whether the permission is granted.
func (c *Checker) Has(p Permission) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.granted[p]
}

// Check returns a PermissionError if the permission is not granted.
func (c *Checker) Check(p Permission, operation string) error {
	if !c.Has(p) {
		return NewPermissionError(c.pluginID, p, operation, "not granted")
	}
	return nil
}

// Granted returns all granted permissions.
func (c *Checker) Granted() []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()

	perms := make([]Permission, 0, len(c.granted))
	for p := range c.granted {
		perms = append(perms, p)
	}
	return perms
}

// SetDataDir sets the plugin's private data directory. File access is
// confined to it unless additional paths are allowed.
func (c *Checker) SetDataDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataDir = normalizePath(dir)
}

// AllowPath adds a path to the allowed list.
func (c *Checker) AllowPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowedPaths = append(c.allowedPaths, normalizePath(path))
}

// BlockPath adds a path to the blocked list. Blocks win over allows.
func (c *Checker) BlockPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockedPaths = append(c.blockedPaths, normalizePath(path))
}

// CheckFileRead checks whether reading path is permitted.
func (c *Checker) CheckFileRead(path string) error {
	if err := c.Check(PermFileRead, "read file"); err != nil {
		return err
	}
	return c.checkPathAccess(path, PermFileRead, "read file")
}

// CheckFileWrite checks whether writing path is permitted.
func (c *Checker) CheckFileWrite(path string) error {
	if err := c.Check(PermFileWrite, "write file"); err != nil {
		return err
	}
	return c.checkPathAccess(path, PermFileWrite, "write file")
}

// checkPathAccess validates a path against the blocked list, the allowed
// list, and the data dir confinement.
func (c *Checker) checkPathAccess(path string, perm Permission, operation string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	abs := normalizePath(path)

	for _, blocked := range c.blockedPaths {
		if isWithinPath(abs, blocked) {
			return NewPermissionError(c.pluginID, perm, operation, "path is blocked")
		}
	}

	for _, allowed := range c.allowedPaths {
		if isWithinPath(abs, allowed) {
			return nil
		}
	}

	if c.dataDir != "" {
		if !isWithinPath(abs, c.dataDir) {
			return NewPermissionError(c.pluginID, perm, operation, "path outside plugin data dir")
		}
		return nil
	}

	if len(c.allowedPaths) > 0 {
		return NewPermissionError(c.pluginID, perm, operation, "path not in allowed list")
	}
	return nil
}

// AllowHost adds a host pattern to the allowed network list.
// Patterns may use a leading wildcard ("*.example.com").
func (c *Checker) AllowHost(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowedHosts = append(c.allowedHosts, strings.ToLower(host))
}

// BlockHost adds a host pattern to the blocked network list.
func (c *Checker) BlockHost(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockedHosts = append(c.blockedHosts, strings.ToLower(host))
}

// CheckNetwork checks whether network access to host is permitted under
// the given permission (PermNetworkRead or PermNetworkWrite).
func (c *Checker) CheckNetwork(perm Permission, host string) error {
	if err := c.Check(perm, "network request"); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	hostOnly := strings.ToLower(extractHost(host))

	for _, blocked := range c.blockedHosts {
		if matchHost(hostOnly, blocked) {
			return NewPermissionError(c.pluginID, perm, "network request", "host is blocked")
		}
	}

	if len(c.allowedHosts) > 0 {
		for _, allowed := range c.allowedHosts {
			if matchHost(hostOnly, allowed) {
				return nil
			}
		}
		return NewPermissionError(c.pluginID, perm, "network request", "host not in allowed list")
	}
	return nil
}

// normalizePath returns an absolute, clean path.
func normalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// isWithinPath checks whether target is within or equal to base using
// filepath.Rel, so "/tmp/data" does not match "/tmp/database".
func isWithinPath(target, base string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// extractHost extracts the host from a host:port string, handling
// bracketed IPv6 addresses.
func extractHost(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host
	}
	if strings.HasPrefix(hostPort, "[") && strings.HasSuffix(hostPort, "]") {
		return hostPort[1 : len(hostPort)-1]
	}
	return hostPort
}

// matchHost checks a host against a pattern, supporting "*." wildcards.
func matchHost(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}
