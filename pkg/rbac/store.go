package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/sms/pkg/storage"
)

// Store handles RBAC data persistence
type Store struct {
	q storage.Querier
}

// NewStore creates a new RBAC store
func NewStore(q storage.Querier) *Store {
	return &Store{q: q}
}

// With returns a store bound to q, typically a transaction
func (s *Store) With(q storage.Querier) *Store {
	return &Store{q: q}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var (
		r    Role
		desc sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &desc, &r.CreatedAt); err != nil {
		return nil, err
	}
	if desc.Valid {
		r.Description = &desc.String
	}
	return &r, nil
}

func scanPermission(row rowScanner) (*Permission, error) {
	var (
		p    Permission
		desc sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &desc, &p.CreatedAt); err != nil {
		return nil, err
	}
	if desc.Valid {
		p.Description = &desc.String
	}
	return &p, nil
}

// GetRoleByName retrieves a role by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT id, name, description, created_at FROM roles WHERE name = $1", Normalize(name))
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

// GetPermissionByName retrieves a permission by name
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT id, name, description, created_at FROM permissions WHERE name = $1", Normalize(name))
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// CreateRole inserts a role
func (s *Store) CreateRole(ctx context.Context, name string, description *string) (*Role, error) {
	r := &Role{Name: Normalize(name), Description: description, CreatedAt: time.Now().UTC()}
	err := s.q.QueryRowContext(ctx,
		"INSERT INTO roles (name, description, created_at) VALUES ($1, $2, $3) RETURNING id",
		r.Name, description, r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, ErrRoleExists
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return r, nil
}

// CreatePermission inserts a permission
func (s *Store) CreatePermission(ctx context.Context, name string, description *string) (*Permission, error) {
	p := &Permission{Name: Normalize(name), Description: description, CreatedAt: time.Now().UTC()}
	err := s.q.QueryRowContext(ctx,
		"INSERT INTO permissions (name, description, created_at) VALUES ($1, $2, $3) RETURNING id",
		p.Name, description, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, ErrPermissionExists
		}
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	return p, nil
}

// FillRoleDescription sets the description of a role that has none
func (s *Store) FillRoleDescription(ctx context.Context, id int64, description string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		"UPDATE roles SET description = $1 WHERE id = $2 AND description IS NULL", description, id)
	if err != nil {
		return false, fmt.Errorf("failed to update role description: %w", err)
	}
	return affected(res)
}

// FillPermissionDescription sets the description of a permission that has none
func (s *Store) FillPermissionDescription(ctx context.Context, id int64, description string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		"UPDATE permissions SET description = $1 WHERE id = $2 AND description IS NULL", description, id)
	if err != nil {
		return false, fmt.Errorf("failed to update permission description: %w", err)
	}
	return affected(res)
}

// ListRoles returns every role with its permissions, ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]RoleWithPermissions, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT id, name, description, created_at FROM roles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	var roles []RoleWithPermissions
	index := make(map[int64]int)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		index[r.ID] = len(roles)
		roles = append(roles, RoleWithPermissions{Role: *r, Permissions: []string{}})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	grants, err := s.q.QueryContext(ctx, `
		SELECT rp.role_id, p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		ORDER BY p.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer grants.Close()
	for grants.Next() {
		var (
			roleID int64
			name   string
		)
		if err := grants.Scan(&roleID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, name)
		}
	}
	return roles, grants.Err()
}

// ListPermissions returns every permission ordered by name
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT id, name, description, created_at FROM permissions ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, *p)
	}
	return perms, rows.Err()
}

// GrantPermission links a permission to a role. It reports whether a new
// grant was created.
func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		"INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		roleID, permissionID)
	if err != nil {
		return false, fmt.Errorf("failed to grant permission: %w", err)
	}
	return affected(res)
}

// RevokePermission unlinks a permission from a role
func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		"DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2", roleID, permissionID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke permission: %w", err)
	}
	return affected(res)
}

// AssignRole gives a user a role. It reports whether a new assignment was
// created.
func (s *Store) AssignRole(ctx context.Context, userID, roleID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		"INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		userID, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to assign role: %w", err)
	}
	return affected(res)
}

// RevokeRole removes a role from a user
func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2", userID, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke role: %w", err)
	}
	return affected(res)
}

// UserRoleNames returns the names of the roles assigned to a user
func (s *Store) UserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	return s.names(ctx, `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
}

// UserPermissionNames returns the union of the permissions granted by a
// user's roles
func (s *Store) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	return s.names(ctx, `
		SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.name
	`, userID)
}

func (s *Store) names(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// UserAccount is the slice of a user row RBAC needs
type UserAccount struct {
	ID       int64
	Role     string
	IsActive bool
}

// GetUser returns the legacy role and active flag of a user
func (s *Store) GetUser(ctx context.Context, userID int64) (*UserAccount, error) {
	var u UserAccount
	err := s.q.QueryRowContext(ctx,
		"SELECT id, role, is_active FROM users WHERE id = $1", userID,
	).Scan(&u.ID, &u.Role, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// adminPredicate matches users holding admin, either through an assignment
// or through the legacy role of a user without any assignment. $1 is the
// admin role name.
const adminPredicate = `(
	EXISTS (
		SELECT 1 FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = u.id AND r.name = $1
	)
	OR (u.role = $1 AND NOT EXISTS (SELECT 1 FROM user_roles ur2 WHERE ur2.user_id = u.id))
)`

// LockActiveAdmins takes row locks on every active administrator, in id
// order, where the dialect has row locks. Revocations that hold these locks
// see each other's committed changes when they count the remaining admins.
func (s *Store) LockActiveAdmins(ctx context.Context) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT u.id FROM users u WHERE "+adminPredicate+" AND u.is_active = $2 ORDER BY u.id"+s.q.Dialect().ForUpdate(),
		RoleAdmin, true)
	if err != nil {
		return nil, fmt.Errorf("failed to lock admins: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountOtherActiveAdmins counts active users other than userID who hold
// admin, either through an assignment or through the legacy role of a
// user without any assignment
func (s *Store) CountOtherActiveAdmins(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM users u
		WHERE `+adminPredicate+` AND u.is_active = $2 AND u.id <> $3
	`, RoleAdmin, true, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return n, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
