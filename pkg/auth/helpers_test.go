package auth

import (
	"context"
	"fmt"
)

// ListRefreshTokens returns all tokens of a user, newest first
func (s *Store) ListRefreshTokens(ctx context.Context, userID int64) ([]*RefreshToken, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, jti, token_hash, revoked, expires_at, created_at
		FROM refresh_tokens WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*RefreshToken
	for rows.Next() {
		var t RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.JTI, &t.TokenHash, &t.Revoked, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}
