package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/config"
	"github.com/platinummonkey/sms/pkg/migrate/migratetest"
)

type recordingAssigner struct {
	calls []int64
	err   error
}

func (a *recordingAssigner) AssignRoleByName(_ context.Context, userID int64, role string) error {
	if role != "admin" {
		return errors.New("unexpected role " + role)
	}
	a.calls = append(a.calls, userID)
	return a.err
}

func adminSettings() config.DefaultAdminSettings {
	return config.DefaultAdminSettings{
		Email:    "Admin@Example.com",
		Password: "bootstrap-password",
		FullName: "System Admin",
	}
}

func TestBootstrapSkipsWhenNotConfigured(t *testing.T) {
	db := migratetest.NewDB(t)
	logger, _ := logtest.NewNullLogger()

	res := NewBootstrapper(db, config.DefaultAdminSettings{Email: "a@example.com"}, nil, logger).Run(context.Background())
	assert.False(t, res.Created)
	n, err := NewStore(db).CountUsers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBootstrapCreatesAdmin(t *testing.T) {
	ctx := context.Background()
	db := migratetest.NewDB(t)
	logger, _ := logtest.NewNullLogger()
	roles := &recordingAssigner{}

	b := NewBootstrapper(db, adminSettings(), roles, logger)
	res := b.Run(ctx)
	require.NoError(t, res.Err)
	assert.True(t, res.Created)
	assert.True(t, res.FirstUser)

	u, err := NewStore(db).GetUserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)
	assert.True(t, u.IsActive)
	assert.True(t, u.PasswordChangeRequired)
	assert.Equal(t, "System Admin", u.FullName)
	assert.True(t, VerifyPassword("bootstrap-password", u.HashedPassword))
	assert.Equal(t, []int64{u.ID}, roles.calls)

	// second run is a no-op apart from the role link
	res = b.Run(ctx)
	require.NoError(t, res.Err)
	assert.False(t, res.Created)
	assert.False(t, res.Promoted)
	assert.False(t, res.PasswordReset)
	assert.False(t, res.NameUpdated)
}

func TestBootstrapRepairsExistingUser(t *testing.T) {
	ctx := context.Background()
	db := migratetest.NewDB(t)
	st := NewStore(db)
	logger, _ := logtest.NewNullLogger()

	u := createUser(t, st, "admin@example.com", "some-other-password", RoleTeacher)
	require.NoError(t, st.UpdateRoleAndStatus(ctx, u.ID, RoleTeacher, false))

	res := NewBootstrapper(db, adminSettings(), nil, logger).Run(ctx)
	require.NoError(t, res.Err)
	assert.True(t, res.Promoted)
	assert.True(t, res.NameUpdated)
	assert.False(t, res.PasswordReset, "password is left alone without a reset flag")

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, got.Role)
	assert.True(t, got.IsActive)
	assert.Equal(t, "System Admin", got.FullName)
	assert.True(t, VerifyPassword("some-other-password", got.HashedPassword))
}

func TestBootstrapForceReset(t *testing.T) {
	ctx := context.Background()
	db := migratetest.NewDB(t)
	st := NewStore(db)
	logger, _ := logtest.NewNullLogger()

	u := createUser(t, st, "admin@example.com", "old-password", RoleAdmin)
	require.NoError(t, st.CreateRefreshToken(ctx, &RefreshToken{
		UserID: u.ID, JTI: "j", TokenHash: "h", ExpiresAt: time.Now().Add(time.Hour),
	}))

	cfg := adminSettings()
	cfg.ForceReset = true
	res := NewBootstrapper(db, cfg, nil, logger).Run(ctx)
	require.NoError(t, res.Err)
	assert.True(t, res.PasswordReset)

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, VerifyPassword("bootstrap-password", got.HashedPassword))
	assert.True(t, got.PasswordChangeRequired)

	tokens, err := st.ListRefreshTokens(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.True(t, tokens[0].Revoked)
}

func TestBootstrapAutoReset(t *testing.T) {
	ctx := context.Background()
	db := migratetest.NewDB(t)
	st := NewStore(db)
	logger, _ := logtest.NewNullLogger()
	cfg := adminSettings()
	cfg.AutoReset = true

	u := createUser(t, st, "admin@example.com", "bootstrap-password", RoleAdmin)
	res := NewBootstrapper(db, cfg, nil, logger).Run(ctx)
	require.NoError(t, res.Err)
	assert.False(t, res.PasswordReset, "matching password is kept")

	require.NoError(t, st.UpdatePassword(ctx, u.ID, "$pbkdf2-sha256$1000$c2FsdA$c3Vt", false))
	res = NewBootstrapper(db, cfg, nil, logger).Run(ctx)
	require.NoError(t, res.Err)
	assert.True(t, res.PasswordReset)

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, VerifyPassword("bootstrap-password", got.HashedPassword))
	assert.False(t, got.PasswordChangeRequired)
}

func TestBootstrapFailuresAreLogged(t *testing.T) {
	db := migratetest.NewBareDB(t)
	logger, hook := logtest.NewNullLogger()

	res := NewBootstrapper(db, adminSettings(), nil, logger).Run(context.Background())
	require.Error(t, res.Err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "default admin bootstrap failed", entry.Message)
}

func TestBootstrapRoleAssignmentFailureIsNotFatal(t *testing.T) {
	db := migratetest.NewDB(t)
	logger, hook := logtest.NewNullLogger()
	roles := &recordingAssigner{err: errors.New("no such table: roles")}

	res := NewBootstrapper(db, adminSettings(), roles, logger).Run(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Created)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestBootstrapCreatesAdminAlongsideExistingUsers(t *testing.T) {
	ctx := context.Background()
	db := migratetest.NewDB(t)
	logger, hook := logtest.NewNullLogger()
	createUser(t, NewStore(db), "teacher@example.com", "teacher-password", RoleTeacher)

	res := NewBootstrapper(db, adminSettings(), nil, logger).Run(ctx)
	require.NoError(t, res.Err)
	assert.True(t, res.Created)
	assert.False(t, res.FirstUser)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, false, entry.Data["first_user"])
}
