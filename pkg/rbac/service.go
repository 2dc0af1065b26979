package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sms/pkg/storage"
)

// Service performs RBAC mutations. Every mutation runs in one transaction
// and invalidates the permission cache after commit.
type Service struct {
	db      *storage.DB
	store   *Store
	checker *Checker
	logger  *logrus.Logger
}

// NewService creates the RBAC service
func NewService(db *storage.DB, checker *Checker, logger *logrus.Logger) *Service {
	return &Service{db: db, store: NewStore(db), checker: checker, logger: logger}
}

// Store returns the underlying store
func (s *Service) Store() *Store {
	return s.store
}

// Checker returns the permission checker
func (s *Service) Checker() *Checker {
	return s.checker
}

// CreateRole creates an empty role
func (s *Service) CreateRole(ctx context.Context, name string, description *string) (*Role, error) {
	return s.store.CreateRole(ctx, name, description)
}

// CreatePermission declares a permission
func (s *Service) CreatePermission(ctx context.Context, name string, description *string) (*Permission, error) {
	return s.store.CreatePermission(ctx, name, description)
}

// GrantPermission grants permission to role. It reports whether the grant
// is new.
func (s *Service) GrantPermission(ctx context.Context, role, permission string) (bool, error) {
	var added bool
	err := storage.WithTx(ctx, s.db, func(tx *storage.Tx) error {
		st := s.store.With(tx)
		r, err := st.GetRoleByName(ctx, role)
		if err != nil {
			return err
		}
		p, err := st.GetPermissionByName(ctx, permission)
		if err != nil {
			return err
		}
		added, err = st.GrantPermission(ctx, r.ID, p.ID)
		return err
	})
	if err != nil {
		return false, err
	}
	s.checker.InvalidateAll()
	return added, nil
}

// RevokePermission revokes permission from role. The admin role cannot
// lose the wildcard.
func (s *Service) RevokePermission(ctx context.Context, role, permission string) (bool, error) {
	if Normalize(role) == RoleAdmin && Normalize(permission) == Wildcard {
		return false, ErrAdminWildcard
	}
	var removed bool
	err := storage.WithTx(ctx, s.db, func(tx *storage.Tx) error {
		st := s.store.With(tx)
		r, err := st.GetRoleByName(ctx, role)
		if err != nil {
			return err
		}
		p, err := st.GetPermissionByName(ctx, permission)
		if err != nil {
			return err
		}
		removed, err = st.RevokePermission(ctx, r.ID, p.ID)
		return err
	})
	if err != nil {
		return false, err
	}
	s.checker.InvalidateAll()
	return removed, nil
}

// AssignRole gives userID the named role
func (s *Service) AssignRole(ctx context.Context, userID int64, role string) (bool, error) {
	var added bool
	err := storage.WithTx(ctx, s.db, func(tx *storage.Tx) error {
		st := s.store.With(tx)
		if _, err := st.GetUser(ctx, userID); err != nil {
			return err
		}
		r, err := st.GetRoleByName(ctx, role)
		if err != nil {
			return err
		}
		added, err = st.AssignRole(ctx, userID, r.ID)
		return err
	})
	if err != nil {
		return false, err
	}
	s.checker.Invalidate(userID)
	return added, nil
}

// AssignRoleByName implements auth.RoleAssigner
func (s *Service) AssignRoleByName(ctx context.Context, userID int64, role string) error {
	_, err := s.AssignRole(ctx, userID, role)
	return err
}

// RevokeRole removes the named role from userID. Removing admin from the
// last active administrator is refused.
func (s *Service) RevokeRole(ctx context.Context, userID int64, role string) (bool, error) {
	var removed bool
	err := storage.WithTx(ctx, s.db, func(tx *storage.Tx) error {
		st := s.store.With(tx)
		user, err := st.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		r, err := st.GetRoleByName(ctx, role)
		if err != nil {
			return err
		}
		if r.Name == RoleAdmin && user.IsActive {
			if _, err := st.LockActiveAdmins(ctx); err != nil {
				return err
			}
			others, err := st.CountOtherActiveAdmins(ctx, userID)
			if err != nil {
				return err
			}
			if others == 0 {
				return ErrLastAdmin
			}
		}
		removed, err = st.RevokeRole(ctx, userID, r.ID)
		return err
	})
	if err != nil {
		return false, err
	}
	s.checker.Invalidate(userID)
	return removed, nil
}

// EffectiveForUser resolves the permissions of a stored user
func (s *Service) EffectiveForUser(ctx context.Context, userID int64) (*Effective, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.checker.resolve(ctx, user.ID, user.Role)
}

// EnsureResult counts what EnsureDefaults changed
type EnsureResult struct {
	RolesCreated       int `json:"roles_created"`
	PermissionsCreated int `json:"permissions_created"`
	GrantsAdded        int `json:"grants_added"`
	DescriptionsFilled int `json:"descriptions_filled"`
}

// Changed reports whether anything was written
func (r EnsureResult) Changed() bool {
	return r.RolesCreated+r.PermissionsCreated+r.GrantsAdded+r.DescriptionsFilled > 0
}

// EnsureDefaults creates the built-in roles and permissions and their
// grants. It is idempotent and only fills descriptions that are missing.
func (s *Service) EnsureDefaults(ctx context.Context) (EnsureResult, error) {
	var res EnsureResult
	d := s.checker.defaults

	err := storage.WithTx(ctx, s.db, func(tx *storage.Tx) error {
		st := s.store.With(tx)

		permIDs := make(map[string]int64, len(d.Permissions))
		for _, name := range d.PermissionNames() {
			desc := d.Permissions[name]
			p, err := st.GetPermissionByName(ctx, name)
			switch {
			case errors.Is(err, ErrPermissionNotFound):
				p, err = st.CreatePermission(ctx, name, optional(desc))
				if err != nil {
					return err
				}
				res.PermissionsCreated++
			case err != nil:
				return err
			case p.Description == nil && desc != "":
				filled, err := st.FillPermissionDescription(ctx, p.ID, desc)
				if err != nil {
					return err
				}
				if filled {
					res.DescriptionsFilled++
				}
			}
			permIDs[name] = p.ID
		}

		for _, name := range d.RoleNames() {
			def := d.Roles[name]
			r, err := st.GetRoleByName(ctx, name)
			switch {
			case errors.Is(err, ErrRoleNotFound):
				r, err = st.CreateRole(ctx, name, optional(def.Description))
				if err != nil {
					return err
				}
				res.RolesCreated++
			case err != nil:
				return err
			case r.Description == nil && def.Description != "":
				filled, err := st.FillRoleDescription(ctx, r.ID, def.Description)
				if err != nil {
					return err
				}
				if filled {
					res.DescriptionsFilled++
				}
			}
			for _, perm := range def.Permissions {
				added, err := st.GrantPermission(ctx, r.ID, permIDs[perm])
				if err != nil {
					return err
				}
				if added {
					res.GrantsAdded++
				}
			}
		}
		return nil
	})
	if err != nil {
		return EnsureResult{}, fmt.Errorf("failed to ensure rbac defaults: %w", err)
	}

	s.checker.InvalidateAll()
	if s.logger != nil && res.Changed() {
		s.logger.WithFields(logrus.Fields{
			"roles_created":       res.RolesCreated,
			"permissions_created": res.PermissionsCreated,
			"grants_added":        res.GrantsAdded,
			"descriptions_filled": res.DescriptionsFilled,
		}).Info("rbac defaults ensured")
	}
	return res, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
