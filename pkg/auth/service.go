package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/sms/pkg/config"
	"github.com/platinummonkey/sms/pkg/observability"
	"github.com/platinummonkey/sms/pkg/storage"
)

// RegisterAdminPolicy values
const (
	RegisterAdminDowngrade = "downgrade"
	RegisterAdminReject    = "reject"
)

// RegisterInput is the body of a registration request
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	FullName string `json:"full_name" validate:"max=255"`
	Role     Role   `json:"role" validate:"omitempty,oneof=admin teacher guest student"`
}

// Service implements the authentication flows
type Service struct {
	db      *storage.DB
	store   *Store
	tokens  *TokenManager
	tracker LoginTracker
	cfg     config.AuthSettings
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates the authentication service. metrics may be nil.
func NewService(db *storage.DB, tokens *TokenManager, tracker LoginTracker, cfg config.AuthSettings, metrics *observability.Metrics) *Service {
	return &Service{
		db:      db,
		store:   NewStore(db),
		tokens:  tokens,
		tracker: tracker,
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
	}
}

// Store returns the user store
func (s *Service) Store() *Store {
	return s.store
}

// Tokens returns the token manager
func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnVerify spends the same time as a real verification so unknown emails
// cannot be told apart by latency
func burnVerify(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("not-a-real-password")
	})
	VerifyPassword(password, dummyHash)
}

// Login verifies credentials and mints a token pair. It returns a
// *LockedError while the email is locked out and ErrInvalidCredentials for
// unknown, inactive or mismatched accounts. The returned user is set
// whenever the account exists, even on failure.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, *User, error) {
	logger := observability.FromContext(ctx)
	key := NormalizeEmail(email)

	remaining, err := s.tracker.CheckLocked(ctx, key)
	if err != nil {
		logger.WithError(err).Warn("login tracker unavailable, continuing without lockout check")
	}
	if remaining > 0 {
		s.metrics.ObserveLogin(observability.ResultLocked)
		return nil, nil, &LockedError{RetryAfter: remaining}
	}

	user, err := s.store.GetUserByEmail(ctx, key)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, nil, err
	}

	switch {
	case user == nil:
		burnVerify(password)
	case !user.IsActive:
		// inactive accounts are indistinguishable from missing ones
		burnVerify(password)
	case VerifyPassword(password, user.HashedPassword):
		if err := s.tracker.Reset(ctx, key); err != nil {
			logger.WithError(err).Warn("failed to reset login tracker")
		}
		if NeedsRehash(user.HashedPassword) {
			s.rehash(ctx, user, password)
		}
		pair, err := s.issuePair(ctx, user)
		if err != nil {
			return nil, user, err
		}
		s.metrics.ObserveLogin(observability.ResultSuccess)
		return pair, user, nil
	}

	lockout, err := s.tracker.RegisterFailure(ctx, key)
	if err != nil {
		logger.WithError(err).Warn("failed to record login failure")
	}
	if lockout > 0 {
		logger.WithField("email", key).Warn("account locked after repeated login failures")
		s.metrics.ObserveLogin(observability.ResultLocked)
		return nil, user, &LockedError{RetryAfter: lockout}
	}
	s.metrics.ObserveLogin(observability.ResultFailure)
	return nil, user, ErrInvalidCredentials
}

func (s *Service) rehash(ctx context.Context, user *User, password string) {
	hash, err := HashPassword(password)
	if err == nil {
		err = s.store.UpdatePassword(ctx, user.ID, hash, user.PasswordChangeRequired)
	}
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to upgrade password hash")
		return
	}
	user.HashedPassword = hash
}

// issuePair mints an access token and persists a new refresh token,
// dropping the user's expired refresh tokens on the way
func (s *Service) issuePair(ctx context.Context, user *User) (*TokenPair, error) {
	var pair *TokenPair
	err := storage.WithTx(ctx, s.db, func(tx *storage.Tx) error {
		var err error
		pair, err = s.issuePairTx(ctx, s.store.With(tx), user)
		return err
	})
	return pair, err
}

func (s *Service) issuePairTx(ctx context.Context, st *Store, user *User) (*TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	if _, err := st.DeleteExpiredRefreshTokens(ctx, user.ID, s.now()); err != nil {
		return nil, err
	}
	if err := st.CreateRefreshToken(ctx, &RefreshToken{
		UserID:    user.ID,
		JTI:       refresh.JTI,
		TokenHash: refresh.Hash,
		ExpiresAt: refresh.ExpiresAt,
	}); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh.Raw, TokenType: TokenType}, nil
}

// Register creates an account. privileged callers may assign the admin
// role; for everyone else the configured policy applies.
func (s *Service) Register(ctx context.Context, in RegisterInput, privileged bool) (*User, error) {
	role := in.Role
	if role == "" {
		role = RoleTeacher
	}
	if role == RoleAdmin && !privileged {
		if s.cfg.RegisterAdminMode == RegisterAdminReject {
			return nil, ErrAdminForbidden
		}
		observability.FromContext(ctx).WithField("email", NormalizeEmail(in.Email)).
			Info("public registration requested admin role, downgrading to teacher")
		role = RoleTeacher
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:          in.Email,
		HashedPassword: hash,
		FullName:       in.FullName,
		Role:           role,
		IsActive:       true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued
func (s *Service) Refresh(ctx context.Context, raw string) (*TokenPair, *User, error) {
	if raw == "" {
		return nil, nil, ErrInvalidToken
	}
	token, err := s.store.GetRefreshTokenByHash(ctx, s.tokens.HashRefreshToken(raw))
	if err != nil {
		return nil, nil, err
	}
	if !token.Valid(s.now()) {
		return nil, nil, ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, ErrInvalidToken
	}

	var pair *TokenPair
	err = storage.WithTx(ctx, s.db, func(tx *storage.Tx) error {
		st := s.store.With(tx)
		revoked, err := st.RevokeRefreshToken(ctx, token.ID)
		if err != nil {
			return err
		}
		if !revoked {
			return ErrInvalidToken
		}
		pair, err = s.issuePairTx(ctx, st, user)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Logout revokes the presented refresh token. Unknown or already revoked
// tokens are not an error. It returns the owning user id when known.
func (s *Service) Logout(ctx context.Context, raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	token, err := s.store.GetRefreshTokenByHash(ctx, s.tokens.HashRefreshToken(raw))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return 0, nil
		}
		return 0, err
	}
	if _, err := s.store.RevokeRefreshToken(ctx, token.ID); err != nil {
		return token.UserID, err
	}
	return token.UserID, nil
}

// ChangePassword verifies the current password, stores the new one, clears
// the change-required flag and revokes every refresh token of the user
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !VerifyPassword(current, user.HashedPassword) {
		return ErrPasswordMismatch
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return storage.WithTx(ctx, s.db, func(tx *storage.Tx) error {
		st := s.store.With(tx)
		if err := st.UpdatePassword(ctx, userID, hash, false); err != nil {
			return err
		}
		_, err := st.RevokeAllRefreshTokens(ctx, userID)
		return err
	})
}

// Authenticate resolves a bearer access token to a principal
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.tokens.ParseAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidToken
	}
	return PrincipalFromUser(user), nil
}

// GetUser returns a user by id
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.store.GetUserByID(ctx, id)
}

// PruneRefreshTokens deletes expired tokens and tokens revoked more than a
// day ago
func (s *Service) PruneRefreshTokens(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.store.PruneRefreshTokens(ctx, now, now.Add(-24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("prune refresh tokens: %w", err)
	}
	return n, nil
}
