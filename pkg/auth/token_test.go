package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-that-is-long-enough-for-hs256"

func newTestTokenManager(now time.Time) *TokenManager {
	tm := NewTokenManager(testSecret, 30*time.Minute, 7*24*time.Hour)
	tm.now = func() time.Time { return now }
	return tm
}

func TestAccessTokenRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tm := newTestTokenManager(now)

	token, err := tm.IssueAccessToken(&User{ID: 3, Email: "teacher@example.com", Role: RoleTeacher})
	require.NoError(t, err)

	claims, err := tm.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "teacher@example.com", claims.Subject)
	assert.Equal(t, "teacher", claims.Role)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, now.Add(30*time.Minute).Unix(), claims.ExpiresAt.Unix())
	assert.Equal(t, now.Unix(), claims.IssuedAt.Unix())
}

func TestAccessTokenUniqueJTI(t *testing.T) {
	tm := newTestTokenManager(time.Now())
	user := &User{Email: "a@example.com"}

	a, err := tm.IssueAccessToken(user)
	require.NoError(t, err)
	b, err := tm.IssueAccessToken(user)
	require.NoError(t, err)

	ca, err := tm.ParseAccessToken(a)
	require.NoError(t, err)
	cb, err := tm.ParseAccessToken(b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestParseAccessTokenRejects(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tm := newTestTokenManager(now)
	valid, err := tm.IssueAccessToken(&User{Email: "a@example.com"})
	require.NoError(t, err)

	expired := func() string {
		old := newTestTokenManager(now.Add(-2 * time.Hour))
		s, err := old.IssueAccessToken(&User{Email: "a@example.com"})
		require.NoError(t, err)
		return s
	}()

	otherKey := func() string {
		other := NewTokenManager("a-completely-different-secret-key-value", time.Hour, time.Hour)
		other.now = tm.now
		s, err := other.IssueAccessToken(&User{Email: "a@example.com"})
		require.NoError(t, err)
		return s
	}()

	noneAlg := func() string {
		claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "a@example.com",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
		s, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		return s
	}()

	hs512 := func() string {
		claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "a@example.com",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return s
	}()

	noExpiry := func() string {
		claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "a@example.com"}}
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return s
	}()

	tests := map[string]string{
		"empty":     "",
		"garbage":   "not.a.jwt",
		"expired":   expired,
		"wrong key": otherKey,
		"alg none":  noneAlg,
		"wrong alg": hs512,
		"no expiry": noExpiry,
		"tampered":  valid[:len(valid)-2] + "xx",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tm.ParseAccessToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestRefreshTokens(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tm := newTestTokenManager(now)

	a, err := tm.NewRefreshToken()
	require.NoError(t, err)
	b, err := tm.NewRefreshToken()
	require.NoError(t, err)

	assert.NotEqual(t, a.Raw, b.Raw)
	assert.NotEqual(t, a.JTI, b.JTI)
	assert.Len(t, a.Raw, 43, "32 random bytes in unpadded base64url")
	assert.Equal(t, now.Add(7*24*time.Hour), a.ExpiresAt)

	assert.Equal(t, a.Hash, tm.HashRefreshToken(a.Raw))
	assert.Len(t, a.Hash, 64)
	assert.NotContains(t, a.Hash, a.Raw)

	other := NewTokenManager("another-secret-key-for-hashing-tokens", time.Hour, time.Hour)
	assert.NotEqual(t, a.Hash, other.HashRefreshToken(a.Raw), "hash is keyed by the secret")
}

func TestRefreshTokenValid(t *testing.T) {
	now := time.Now()
	assert.True(t, (&RefreshToken{ExpiresAt: now.Add(time.Minute)}).Valid(now))
	assert.False(t, (&RefreshToken{ExpiresAt: now.Add(time.Minute), Revoked: true}).Valid(now))
	assert.False(t, (&RefreshToken{ExpiresAt: now}).Valid(now))
}
