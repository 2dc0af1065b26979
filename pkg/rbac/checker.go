package rbac

import (
	"context"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/sms/pkg/auth"
	"github.com/platinummonkey/sms/pkg/observability"
	"github.com/platinummonkey/sms/pkg/storage"
)

const (
	defaultCacheTTL  = 30 * time.Second
	defaultCacheSize = 1024
)

// Checker resolves effective permissions. The database union wins; users
// with assignments but no grants fall back to the defaults of their role
// names; users without assignments, or databases without RBAC tables,
// fall back to the defaults of the legacy role on the user row.
type Checker struct {
	store    *Store
	defaults *Defaults
	cache    *lru.LRU[int64, *Effective]
	group    singleflight.Group
}

// NewChecker creates a permission checker with a per-user cache. A ttl of
// zero uses the default.
func NewChecker(q storage.Querier, ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Checker{
		store:    NewStore(q),
		defaults: DefaultMapping(),
		cache:    lru.NewLRU[int64, *Effective](defaultCacheSize, nil, ttl),
	}
}

// Effective returns the effective permissions of p
func (c *Checker) Effective(ctx context.Context, p *auth.Principal) (*Effective, error) {
	if p.Synthetic {
		return &Effective{Roles: []string{RoleAdmin}, Permissions: []string{Wildcard}, Source: SourceSynthetic}, nil
	}
	if eff, ok := c.cache.Get(p.UserID); ok {
		return eff, nil
	}

	v, err, _ := c.group.Do(strconv.FormatInt(p.UserID, 10), func() (interface{}, error) {
		eff, err := c.resolve(ctx, p.UserID, string(p.Role))
		if err != nil {
			return nil, err
		}
		c.cache.Add(p.UserID, eff)
		return eff, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Effective), nil
}

func (c *Checker) resolve(ctx context.Context, userID int64, legacyRole string) (*Effective, error) {
	legacy := func() *Effective {
		return &Effective{
			UserID:      userID,
			Roles:       []string{Normalize(legacyRole)},
			Permissions: c.defaults.PermissionsForRoles([]string{legacyRole}),
			Source:      SourceLegacyRole,
		}
	}

	roles, err := c.store.UserRoleNames(ctx, userID)
	if err != nil {
		if storage.IsMissingTable(err) {
			observability.FromContext(ctx).Debug("rbac tables missing, using legacy role defaults")
			return legacy(), nil
		}
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	if len(roles) == 0 {
		return legacy(), nil
	}

	perms, err := c.store.UserPermissionNames(ctx, userID)
	if err != nil {
		if storage.IsMissingTable(err) {
			return legacy(), nil
		}
		return nil, fmt.Errorf("failed to load user permissions: %w", err)
	}
	if len(perms) == 0 {
		return &Effective{
			UserID:      userID,
			Roles:       roles,
			Permissions: c.defaults.PermissionsForRoles(roles),
			Source:      SourceRoleDefault,
		}, nil
	}
	return &Effective{UserID: userID, Roles: roles, Permissions: perms, Source: SourceDatabase}, nil
}

// HasPermission reports whether p holds permission
func (c *Checker) HasPermission(ctx context.Context, p *auth.Principal, permission string) (bool, error) {
	eff, err := c.Effective(ctx, p)
	if err != nil {
		return false, err
	}
	return Has(eff.Permissions, permission), nil
}

// Invalidate drops the cached permissions of one user
func (c *Checker) Invalidate(userID int64) {
	c.cache.Remove(userID)
}

// InvalidateAll drops every cached entry; used when a role's grants change
func (c *Checker) InvalidateAll() {
	c.cache.Purge()
}

var _ auth.PermissionChecker = (*Checker)(nil)
