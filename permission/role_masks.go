package permission

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role is a CRM staff role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleSales   Role = "sales"
	RoleSupport Role = "support"
)

// Roles lists every known role from most to least privileged.
var Roles = []Role{RoleAdmin, RoleManager, RoleSales, RoleSupport}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleSales, RoleSupport:
		return true
	}
	return false
}

// ParseRole converts s into a known [Role].
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// RoleMasks compiles roles into route masks against a [Registry].
type RoleMasks struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[Role]Mask
	frozen bool
}

// NewRoleMasks creates a mask set bound to registry.
func NewRoleMasks(registry *Registry) *RoleMasks {
	return &RoleMasks{
		registry: registry,
		roles:    make(map[Role]Mask),
	}
}

// Grant adds path to role's mask, registering the role on first use.
func (rm *RoleMasks) Grant(role Role, path string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}

	bit, ok := rm.registry.Bit(path)
	if !ok {
		return errors.New("route not registered: " + path)
	}

	mask := rm.roles[role]
	mask.Set(bit)
	rm.roles[role] = mask
	return nil
}

// Mask returns the compiled route mask for role.
func (rm *RoleMasks) Mask(role Role) (Mask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	mask, ok := rm.roles[role]
	return mask, ok
}

// Freeze prevents further grants.
func (rm *RoleMasks) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

// Count returns the number of roles holding at least one grant.
func (rm *RoleMasks) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
