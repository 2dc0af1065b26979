package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/migrate/migratetest"
	"github.com/platinummonkey/sms/pkg/storage"
)

func createUser(t *testing.T, st *Store, email, password string, role Role) *User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	u := &User{Email: email, HashedPassword: hash, FullName: "Test User", Role: role, IsActive: true}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func TestStoreUsers(t *testing.T) {
	ctx := context.Background()
	st := NewStore(migratetest.NewDB(t))

	u := createUser(t, st, "  Teacher@Example.COM ", "password123", RoleTeacher)
	assert.NotZero(t, u.ID)
	assert.Equal(t, "teacher@example.com", u.Email)

	got, err := st.GetUserByEmail(ctx, "TEACHER@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, RoleTeacher, got.Role)
	assert.True(t, got.IsActive)
	assert.False(t, got.PasswordChangeRequired)

	_, err = st.GetUserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = st.GetUserByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)

	dup := &User{Email: "teacher@EXAMPLE.com", HashedPassword: "x", Role: RoleGuest, IsActive: true}
	assert.ErrorIs(t, st.CreateUser(ctx, dup), ErrUserExists)

	require.NoError(t, st.UpdatePassword(ctx, u.ID, "newhash", true))
	require.NoError(t, st.UpdateFullName(ctx, u.ID, "Renamed"))
	require.NoError(t, st.UpdateRoleAndStatus(ctx, u.ID, RoleAdmin, false))
	got, err = st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "newhash", got.HashedPassword)
	assert.True(t, got.PasswordChangeRequired)
	assert.Equal(t, "Renamed", got.FullName)
	assert.Equal(t, RoleAdmin, got.Role)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, st.UpdateFullName(ctx, 9999, "x"), ErrUserNotFound)

	n, err := st.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStoreRefreshTokens(t *testing.T) {
	ctx := context.Background()
	db := migratetest.NewDB(t)
	st := NewStore(db)
	u := createUser(t, st, "a@example.com", "password123", RoleTeacher)
	now := time.Now().UTC()

	active := &RefreshToken{UserID: u.ID, JTI: "jti-active", TokenHash: "hash-active", ExpiresAt: now.Add(time.Hour)}
	expired := &RefreshToken{UserID: u.ID, JTI: "jti-expired", TokenHash: "hash-expired", ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, st.CreateRefreshToken(ctx, active))
	require.NoError(t, st.CreateRefreshToken(ctx, expired))

	got, err := st.GetRefreshTokenByHash(ctx, "hash-active")
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)
	assert.True(t, got.Valid(now))

	_, err = st.GetRefreshTokenByHash(ctx, "unknown")
	assert.ErrorIs(t, err, ErrInvalidToken)

	revoked, err := st.RevokeRefreshToken(ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, err = st.RevokeRefreshToken(ctx, active.ID)
	require.NoError(t, err)
	assert.False(t, revoked, "second revoke reports nothing changed")

	n, err := st.DeleteExpiredRefreshTokens(ctx, u.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tokens, err := st.ListRefreshTokens(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.True(t, tokens[0].Revoked)
}

func TestStoreRevokeAllAndPrune(t *testing.T) {
	ctx := context.Background()
	st := NewStore(migratetest.NewDB(t))
	u := createUser(t, st, "a@example.com", "password123", RoleTeacher)
	now := time.Now().UTC()

	for i, jti := range []string{"one", "two", "three"} {
		require.NoError(t, st.CreateRefreshToken(ctx, &RefreshToken{
			UserID: u.ID, JTI: jti, TokenHash: "h-" + jti, ExpiresAt: now.Add(time.Duration(i+1) * time.Hour),
		}))
	}
	n, err := st.RevokeAllRefreshTokens(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// revoked tokens younger than the cutoff survive
	n, err = st.PruneRefreshTokens(ctx, now, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = st.PruneRefreshTokens(ctx, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStoreWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := migratetest.NewDB(t)
	st := NewStore(db)

	err := storage.WithTx(ctx, db, func(tx *storage.Tx) error {
		return st.With(tx).CreateUser(ctx, &User{Email: "rolled@example.com", HashedPassword: "x", Role: RoleGuest, IsActive: true})
	})
	require.NoError(t, err)

	_, err = st.GetUserByEmail(ctx, "rolled@example.com")
	require.NoError(t, err)

	err = storage.WithTx(ctx, db, func(tx *storage.Tx) error {
		if err := st.With(tx).CreateUser(ctx, &User{Email: "gone@example.com", HashedPassword: "x", Role: RoleGuest, IsActive: true}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = st.GetUserByEmail(ctx, "gone@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
