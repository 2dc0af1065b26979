package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/auth"
	"github.com/platinummonkey/sms/pkg/migrate/migratetest"
)

func principalFor(u *auth.User) *auth.Principal {
	return auth.PrincipalFromUser(u)
}

func TestCheckerLegacyRoleFallback(t *testing.T) {
	env := newTestEnv(t)
	env.ensureDefaults(t)
	u := env.createUser(t, "t@example.com", auth.RoleTeacher, true)

	eff, err := env.svc.Checker().Effective(context.Background(), principalFor(u))
	require.NoError(t, err)
	assert.Equal(t, SourceLegacyRole, eff.Source)
	assert.Equal(t, []string{"teacher"}, eff.Roles)
	assert.ElementsMatch(t, DefaultMapping().PermissionsFor("teacher"), eff.Permissions)
}

func TestCheckerDatabaseUnion(t *testing.T) {
	env := newTestEnv(t)
	env.ensureDefaults(t)
	ctx := context.Background()

	// legacy role says teacher, assignments say guest: assignments win
	u := env.createUser(t, "g@example.com", auth.RoleTeacher, true)
	_, err := env.svc.AssignRole(ctx, u.ID, "guest")
	require.NoError(t, err)
	_, err = env.svc.GrantPermission(ctx, "guest", "grades.read")
	require.NoError(t, err)

	checker := env.svc.Checker()
	eff, err := checker.Effective(ctx, principalFor(u))
	require.NoError(t, err)
	assert.Equal(t, SourceDatabase, eff.Source)
	assert.ElementsMatch(t, []string{"students.read", "courses.read", "grades.read"}, eff.Permissions)

	ok, err := checker.HasPermission(ctx, principalFor(u), "students.create")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckerRoleDefaultsWhenUnionEmpty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// role rows exist but carry no grants
	_, err := env.svc.CreateRole(ctx, "student", nil)
	require.NoError(t, err)
	u := env.createUser(t, "s@example.com", auth.RoleGuest, true)
	_, err = env.svc.AssignRole(ctx, u.ID, "student")
	require.NoError(t, err)

	eff, err := env.svc.Checker().Effective(ctx, principalFor(u))
	require.NoError(t, err)
	assert.Equal(t, SourceRoleDefault, eff.Source)
	assert.ElementsMatch(t, DefaultMapping().PermissionsFor("student"), eff.Permissions)
}

func TestCheckerMissingTables(t *testing.T) {
	checker := NewChecker(migratetest.NewBareDB(t), time.Minute)
	p := &auth.Principal{UserID: 1, Role: auth.RoleGuest}

	eff, err := checker.Effective(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, SourceLegacyRole, eff.Source)

	ok, err := checker.HasPermission(context.Background(), p, "courses.read")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckerSynthetic(t *testing.T) {
	checker := NewChecker(migratetest.NewBareDB(t), 0)
	ok, err := checker.HasPermission(context.Background(), auth.SyntheticAdmin(), PermissionManage)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckerCacheAndInvalidation(t *testing.T) {
	env := newTestEnv(t)
	env.ensureDefaults(t)
	ctx := context.Background()

	u := env.createUser(t, "c@example.com", auth.RoleGuest, true)
	_, err := env.svc.AssignRole(ctx, u.ID, "guest")
	require.NoError(t, err)

	checker := env.svc.Checker()
	ok, err := checker.HasPermission(ctx, principalFor(u), "grades.read")
	require.NoError(t, err)
	assert.False(t, ok)

	// a grant behind the service's back is not visible until invalidated
	guest, err := env.svc.Store().GetRoleByName(ctx, "guest")
	require.NoError(t, err)
	perm, err := env.svc.Store().GetPermissionByName(ctx, "grades.read")
	require.NoError(t, err)
	_, err = env.svc.Store().GrantPermission(ctx, guest.ID, perm.ID)
	require.NoError(t, err)

	ok, _ = checker.HasPermission(ctx, principalFor(u), "grades.read")
	assert.False(t, ok)

	checker.Invalidate(u.ID)
	ok, _ = checker.HasPermission(ctx, principalFor(u), "grades.read")
	assert.True(t, ok)

	// service mutations invalidate on their own
	_, err = env.svc.RevokePermission(ctx, "guest", "grades.read")
	require.NoError(t, err)
	ok, _ = checker.HasPermission(ctx, principalFor(u), "grades.read")
	assert.False(t, ok)
}
