package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/sms/pkg/storage"
)

const userColumns = `id, email, hashed_password, full_name, role, is_active,
	password_change_required, created_at, updated_at`

// Store persists users and refresh tokens
type Store struct {
	q storage.Querier
}

// NewStore creates a store on q
func NewStore(q storage.Querier) *Store {
	return &Store{q: q}
}

// With returns a store bound to q, typically a transaction
func (s *Store) With(q storage.Querier) *Store {
	return &Store{q: q}
}

// GetUserByEmail looks a user up by normalized email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", NormalizeEmail(email))
	return scanUser(row)
}

// GetUserByID looks a user up by id
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return scanUser(row)
}

// CreateUser inserts u and sets its ID and timestamps
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	u.Email = NormalizeEmail(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now

	query := `
		INSERT INTO users (email, hashed_password, full_name, role, is_active,
			password_change_required, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := s.q.QueryRowContext(ctx, query,
		u.Email, u.HashedPassword, u.FullName, string(u.Role), u.IsActive,
		u.PasswordChangeRequired, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdatePassword replaces the password hash and the change-required flag
func (s *Store) UpdatePassword(ctx context.Context, userID int64, hash string, changeRequired bool) error {
	return s.updateUser(ctx, userID,
		"UPDATE users SET hashed_password = $1, password_change_required = $2, updated_at = $3 WHERE id = $4",
		hash, changeRequired, time.Now().UTC(), userID)
}

// UpdateFullName sets the display name
func (s *Store) UpdateFullName(ctx context.Context, userID int64, fullName string) error {
	return s.updateUser(ctx, userID,
		"UPDATE users SET full_name = $1, updated_at = $2 WHERE id = $3",
		fullName, time.Now().UTC(), userID)
}

// UpdateRoleAndStatus sets the legacy role and active flag
func (s *Store) UpdateRoleAndStatus(ctx context.Context, userID int64, role Role, active bool) error {
	return s.updateUser(ctx, userID,
		"UPDATE users SET role = $1, is_active = $2, updated_at = $3 WHERE id = $4",
		string(role), active, time.Now().UTC(), userID)
}

func (s *Store) updateUser(ctx context.Context, userID int64, query string, args ...interface{}) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user %d: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateRefreshToken persists a refresh token row
func (s *Store) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	t.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO refresh_tokens (user_id, jti, token_hash, revoked, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := s.q.QueryRowContext(ctx, query,
		t.UserID, t.JTI, t.TokenHash, t.Revoked, t.ExpiresAt.UTC(), t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetRefreshTokenByHash looks a refresh token up by its hash
func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	var t RefreshToken
	err := s.q.QueryRowContext(ctx, `
		SELECT id, user_id, jti, token_hash, revoked, expires_at, created_at
		FROM refresh_tokens WHERE token_hash = $1`, hash,
	).Scan(&t.ID, &t.UserID, &t.JTI, &t.TokenHash, &t.Revoked, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	return &t, nil
}

// RevokeRefreshToken revokes one token. It reports whether the token was
// still active, so concurrent rotations of the same token cannot both win.
func (s *Store) RevokeRefreshToken(ctx context.Context, id int64) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = $1 WHERE id = $2 AND revoked = $3", true, id, false)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevokeAllRefreshTokens revokes every active token of a user
func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = $1 WHERE user_id = $2 AND revoked = $3", true, userID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredRefreshTokens removes a user's expired tokens
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, userID int64, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id = $1 AND expires_at <= $2", userID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// PruneRefreshTokens removes all expired tokens and revoked tokens created
// before revokedBefore
func (s *Store) PruneRefreshTokens(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= $1 OR (revoked = $2 AND created_at < $3)",
		now.UTC(), true, revokedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// CountUsers returns the number of users
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(sc scanner) (*User, error) {
	var (
		u    User
		role string
	)
	err := sc.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.FullName, &role, &u.IsActive,
		&u.PasswordChangeRequired, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Role = Role(role)
	return &u, nil
}
