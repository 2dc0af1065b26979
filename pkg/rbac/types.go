package rbac

import (
	"errors"
	"strings"
	"time"
)

const (
	// Wildcard grants every permission
	Wildcard = "*"
	// PermissionManage guards the RBAC administration API
	PermissionManage = "rbac.manage"
	// RoleAdmin always holds Wildcard
	RoleAdmin = "admin"
)

// Role is a named bundle of permissions
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleWithPermissions is a role and the names of the permissions it grants
type RoleWithPermissions struct {
	Role
	Permissions []string `json:"permissions"`
}

// Permission is a dotted resource.action name or Wildcard
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Source says where a user's effective permissions came from
type Source string

const (
	SourceDatabase    Source = "database"
	SourceRoleDefault Source = "role_defaults"
	SourceLegacyRole  Source = "legacy_role"
	SourceSynthetic   Source = "synthetic"
)

// Effective is the resolved permission set of a user
type Effective struct {
	UserID      int64    `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      Source   `json:"source"`
}

var (
	ErrRoleNotFound       = errors.New("role not found")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrLastAdmin          = errors.New("cannot remove admin role from the last active administrator")
	ErrAdminWildcard      = errors.New("admin role must keep the wildcard permission")
	ErrRoleExists         = errors.New("role already exists")
	ErrPermissionExists   = errors.New("permission already exists")
)

// Normalize lowercases and trims a role or permission name
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Has reports whether perms satisfies required. "*" grants everything and
// "resource.*" grants every permission whose first segment is resource.
// Deeper patterns such as "students.self.*" match nothing.
func Has(perms []string, required string) bool {
	required = Normalize(required)
	if required == "" {
		return false
	}
	for _, p := range perms {
		p = Normalize(p)
		switch {
		case p == Wildcard, p == required:
			return true
		case strings.HasSuffix(p, ".*"):
			// only a single leading segment may be wildcarded
			resource := strings.TrimSuffix(p, ".*")
			if resource != "" && !strings.Contains(resource, ".") && strings.HasPrefix(required, resource+".") {
				return true
			}
		}
	}
	return false
}
