package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// refreshTokenBytes is the entropy of a refresh token (256 bits)
	refreshTokenBytes = 32
	// TokenType is returned alongside access tokens
	TokenType = "bearer"
)

// AccessClaims are the claims carried by an access token
type AccessClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssuedRefreshToken is a freshly minted refresh token. Raw is handed to
// the client once; only Hash is persisted.
type IssuedRefreshToken struct {
	Raw       string
	Hash      string
	JTI       string
	ExpiresAt time.Time
}

// TokenManager issues and validates tokens
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager creates a token manager signing with secretKey
func NewTokenManager(secretKey string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		secret:     []byte(secretKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// IssueAccessToken signs an access token for user
func (tm *TokenManager) IssueAccessToken(user *User) (string, error) {
	if user == nil || user.Email == "" {
		return "", errors.New("user email is required")
	}
	now := tm.now().UTC()
	claims := AccessClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature and expiry and returns the claims
func (tm *TokenManager) ParseAccessToken(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken mints a random opaque refresh token
func (tm *TokenManager) NewRefreshToken() (*IssuedRefreshToken, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(b)
	return &IssuedRefreshToken{
		Raw:       raw,
		Hash:      tm.HashRefreshToken(raw),
		JTI:       uuid.NewString(),
		ExpiresAt: tm.now().UTC().Add(tm.refreshTTL),
	}, nil
}

// HashRefreshToken returns the HMAC-SHA256 of a raw refresh token under the
// secret key
func (tm *TokenManager) HashRefreshToken(raw string) string {
	mac := hmac.New(sha256.New, tm.secret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// RefreshTTL is the lifetime of refresh tokens
func (tm *TokenManager) RefreshTTL() time.Duration {
	return tm.refreshTTL
}
