package rbac

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// RoleDefaults describes one built-in role
type RoleDefaults struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Defaults is the built-in role to permission mapping
type Defaults struct {
	Permissions map[string]string       `yaml:"permissions"`
	Roles       map[string]RoleDefaults `yaml:"roles"`
}

// ParseDefaults parses and checks a defaults document. Every granted
// permission must be declared and admin must hold the wildcard.
func ParseDefaults(data []byte) (*Defaults, error) {
	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse rbac defaults: %w", err)
	}

	perms := make(map[string]string, len(d.Permissions))
	for name, desc := range d.Permissions {
		perms[Normalize(name)] = desc
	}
	roles := make(map[string]RoleDefaults, len(d.Roles))
	for name, role := range d.Roles {
		normalized := make([]string, 0, len(role.Permissions))
		for _, p := range role.Permissions {
			p = Normalize(p)
			if _, ok := perms[p]; !ok {
				return nil, fmt.Errorf("role %q grants undeclared permission %q", name, p)
			}
			normalized = append(normalized, p)
		}
		role.Permissions = normalized
		roles[Normalize(name)] = role
	}
	if admin, ok := roles[RoleAdmin]; !ok || !Has(admin.Permissions, Wildcard) {
		return nil, fmt.Errorf("role %q must grant %q", RoleAdmin, Wildcard)
	}

	d.Permissions = perms
	d.Roles = roles
	return &d, nil
}

var (
	defaultsOnce sync.Once
	builtin      *Defaults
)

// DefaultMapping returns the embedded defaults
func DefaultMapping() *Defaults {
	defaultsOnce.Do(func() {
		d, err := ParseDefaults(defaultsYAML)
		if err != nil {
			panic(err)
		}
		builtin = d
	})
	return builtin
}

// PermissionsFor returns the default permissions of role, or nil for an
// unknown role
func (d *Defaults) PermissionsFor(role string) []string {
	r, ok := d.Roles[Normalize(role)]
	if !ok {
		return nil
	}
	return append([]string(nil), r.Permissions...)
}

// PermissionsForRoles returns the sorted union of the defaults of roles
func (d *Defaults) PermissionsForRoles(roles []string) []string {
	set := make(map[string]struct{})
	for _, role := range roles {
		for _, p := range d.PermissionsFor(role) {
			set[p] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// RoleNames returns the built-in role names, sorted
func (d *Defaults) RoleNames() []string {
	names := make([]string, 0, len(d.Roles))
	for name := range d.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PermissionNames returns the declared permission names, sorted
func (d *Defaults) PermissionNames() []string {
	names := make([]string, 0, len(d.Permissions))
	for name := range d.Permissions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
