package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/platinummonkey/sms/pkg/contextkeys"
)

// Role is the legacy role stored on the user row
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleGuest   Role = "guest"
	RoleStudent Role = "student"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleGuest, RoleStudent:
		return true
	}
	return false
}

// User is an account. Users are never hard deleted.
type User struct {
	ID                     int64     `json:"id"`
	Email                  string    `json:"email"`
	HashedPassword         string    `json:"-"`
	FullName               string    `json:"full_name"`
	Role                   Role      `json:"role"`
	IsActive               bool      `json:"is_active"`
	PasswordChangeRequired bool      `json:"password_change_required"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// RefreshToken is a persisted refresh token. The raw token is never stored.
type RefreshToken struct {
	ID        int64
	UserID    int64
	JTI       string
	TokenHash string
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Valid reports whether the token can still be used at now
func (t *RefreshToken) Valid(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}

// TokenPair is returned by login and refresh
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Principal is the authenticated caller of a request
type Principal struct {
	UserID   int64
	Email    string
	FullName string
	Role     Role
	// Synthetic is set when authentication is disabled and the caller is
	// treated as an administrator.
	Synthetic bool
}

// ActorID implements audit.Actor
func (p *Principal) ActorID() int64 {
	return p.UserID
}

// ActorEmail implements audit.Actor
func (p *Principal) ActorEmail() string {
	return p.Email
}

// SyntheticAdmin is the principal used when authentication is disabled
func SyntheticAdmin() *Principal {
	return &Principal{Email: "anonymous@localhost", Role: RoleAdmin, Synthetic: true}
}

// PrincipalFromUser builds the principal for an authenticated user
func PrincipalFromUser(u *User) *Principal {
	return &Principal{UserID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}

// PrincipalFromContext returns the principal stored by the authentication
// middleware
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p, ok && p != nil
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Errors returned by the service
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInactiveUser       = errors.New("user is inactive")
	ErrInvalidToken       = errors.New("invalid token")
	ErrPasswordMismatch   = errors.New("current password is incorrect")
	ErrAdminForbidden     = errors.New("admin role cannot be self-assigned")
)

// LockedError carries how long a locked account stays locked
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return "account locked"
}

// Is makes errors.Is(err, ErrAccountLocked) match
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
