package permission

import (
	"errors"
	"fmt"
)

// HomePath is the route users are sent to when they lack access to a page.
const HomePath = "/"

// RouteTable is an immutable role->route permission table. Build one with
// [NewRouteTable], [DefaultRouteTable] or [LoadRouteTableYAML].
type RouteTable struct {
	registry *Registry
	roles    *RoleMasks
	home     string
}

// RouteRule grants Roles access to Path.
type RouteRule struct {
	Path  string
	Roles []Role
}

// NewRouteTable compiles rules into a frozen table. Rule order fixes the
// order returned by [RouteTable.AllowedPaths].
func NewRouteTable(home string, rules []RouteRule) (*RouteTable, error) {
	if home == "" {
		home = HomePath
	}

	registry := NewRegistry()
	masks := NewRoleMasks(registry)

	for _, rule := range rules {
		if _, err := registry.Register(rule.Path); err != nil {
			return nil, err
		}
		if len(rule.Roles) == 0 {
			return nil, fmt.Errorf("route %s grants no roles", rule.Path)
		}
		for _, role := range rule.Roles {
			if err := masks.Grant(role, rule.Path); err != nil {
				return nil, err
			}
		}
	}

	if _, ok := registry.Bit(home); !ok {
		return nil, errors.New("home route not registered: " + home)
	}

	registry.Freeze()
	masks.Freeze()

	return &RouteTable{registry: registry, roles: masks, home: home}, nil
}

var allRoles = []Role{RoleAdmin, RoleManager, RoleSales, RoleSupport}

// DefaultRules is the CRM page table.
var DefaultRules = []RouteRule{
	{Path: "/", Roles: allRoles},
	{Path: "/contacts", Roles: allRoles},
	{Path: "/deals", Roles: []Role{RoleAdmin, RoleManager, RoleSales}},
	{Path: "/calendar", Roles: allRoles},
	{Path: "/communications", Roles: allRoles},
	{Path: "/campaigns", Roles: []Role{RoleAdmin, RoleManager, RoleSales}},
	{Path: "/payments", Roles: []Role{RoleAdmin, RoleManager}},
	{Path: "/reports", Roles: []Role{RoleAdmin, RoleManager}},
	{Path: "/staff", Roles: []Role{RoleAdmin}},
	{Path: "/settings", Roles: allRoles},
}

var defaultTable = mustRouteTable(NewRouteTable(HomePath, DefaultRules))

func mustRouteTable(t *RouteTable, err error) *RouteTable {
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultRouteTable returns the built-in CRM page table.
func DefaultRouteTable() *RouteTable {
	return defaultTable
}

// HasAccess reports whether role may open path using the default table.
func HasAccess(role Role, path string) bool {
	return defaultTable.HasAccess(role, path)
}

// HasAccess reports whether role may open path. Unknown paths and unknown
// roles are denied.
func (t *RouteTable) HasAccess(role Role, path string) bool {
	if t == nil {
		return false
	}
	bit, ok := t.registry.Bit(path)
	if !ok {
		return false
	}
	mask, ok := t.roles.Mask(role)
	if !ok {
		return false
	}
	return mask.Has(bit)
}

// Known reports whether path is present in the table.
func (t *RouteTable) Known(path string) bool {
	if t == nil {
		return false
	}
	_, ok := t.registry.Bit(path)
	return ok
}

// AllowedPaths returns the paths role may open, in table order. Navigation
// renders exactly this list.
func (t *RouteTable) AllowedPaths(role Role) []string {
	if t == nil {
		return nil
	}
	mask, ok := t.roles.Mask(role)
	if !ok {
		return nil
	}
	var out []string
	for bit, path := range t.registry.Paths() {
		if mask.Has(bit) {
			out = append(out, path)
		}
	}
	return out
}

// RolesFor returns the roles granted path, in privilege order.
func (t *RouteTable) RolesFor(path string) []Role {
	if t == nil {
		return nil
	}
	var out []Role
	for _, role := range Roles {
		if t.HasAccess(role, path) {
			out = append(out, role)
		}
	}
	return out
}

// Home returns the fallback route for denied navigation.
func (t *RouteTable) Home() string {
	if t == nil {
		return HomePath
	}
	return t.home
}

// Rules returns the table as rules, in table order.
func (t *RouteTable) Rules() []RouteRule {
	if t == nil {
		return nil
	}
	paths := t.registry.Paths()
	out := make([]RouteRule, 0, len(paths))
	for _, path := range paths {
		out = append(out, RouteRule{Path: path, Roles: t.RolesFor(path)})
	}
	return out
}
