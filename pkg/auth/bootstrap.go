package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sms/pkg/config"
	"github.com/platinummonkey/sms/pkg/storage"
)

// RoleAssigner links a user to a named RBAC role. It is satisfied by the
// rbac store.
type RoleAssigner interface {
	AssignRoleByName(ctx context.Context, userID int64, role string) error
}

// Bootstrapper reconciles the configured default administrator account at
// startup
type Bootstrapper struct {
	db       *storage.DB
	cfg      config.DefaultAdminSettings
	roles    RoleAssigner
	logger   *logrus.Logger
	mu       sync.Mutex
	hashFunc func(string) (string, error)
}

// NewBootstrapper creates a bootstrapper. roles may be nil.
func NewBootstrapper(db *storage.DB, cfg config.DefaultAdminSettings, roles RoleAssigner, logger *logrus.Logger) *Bootstrapper {
	return &Bootstrapper{
		db:       db,
		cfg:      cfg,
		roles:    roles,
		logger:   logger,
		hashFunc: HashPassword,
	}
}

// Run creates or repairs the default admin. Failures are logged and never
// returned to the caller; the result reports what happened for tests.
func (b *Bootstrapper) Run(ctx context.Context) BootstrapResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.Configured() {
		b.logger.Debug("default admin not configured, skipping bootstrap")
		return BootstrapResult{}
	}

	res, err := b.reconcile(ctx)
	if err != nil {
		b.logger.WithError(err).WithField("email", NormalizeEmail(b.cfg.Email)).Error("default admin bootstrap failed")
		res.Err = err
		return res
	}
	b.logger.WithFields(logrus.Fields{
		"email":          NormalizeEmail(b.cfg.Email),
		"created":        res.Created,
		"first_user":     res.FirstUser,
		"password_reset": res.PasswordReset,
		"promoted":       res.Promoted,
	}).Info("default admin reconciled")
	return res
}

// BootstrapResult describes the changes made by a bootstrap run
type BootstrapResult struct {
	Created       bool
	FirstUser     bool
	Promoted      bool
	PasswordReset bool
	NameUpdated   bool
	Err           error
}

func (b *Bootstrapper) reconcile(ctx context.Context) (BootstrapResult, error) {
	var (
		res    BootstrapResult
		userID int64
	)
	email := NormalizeEmail(b.cfg.Email)

	err := storage.WithTx(ctx, b.db, func(tx *storage.Tx) error {
		st := NewStore(tx)
		user, err := st.GetUserByEmail(ctx, email)
		if errors.Is(err, ErrUserNotFound) {
			n, err := st.CountUsers(ctx)
			if err != nil {
				return err
			}
			res.FirstUser = n == 0
			hash, err := b.hashFunc(b.cfg.Password)
			if err != nil {
				return err
			}
			user = &User{
				Email:                  email,
				HashedPassword:         hash,
				FullName:               b.cfg.FullName,
				Role:                   RoleAdmin,
				IsActive:               true,
				PasswordChangeRequired: true,
			}
			if err := st.CreateUser(ctx, user); err != nil {
				return err
			}
			res.Created = true
			userID = user.ID
			return nil
		}
		if err != nil {
			return err
		}

		if user.Role != RoleAdmin || !user.IsActive {
			if err := st.UpdateRoleAndStatus(ctx, user.ID, RoleAdmin, true); err != nil {
				return err
			}
			res.Promoted = true
		}

		switch {
		case b.cfg.ForceReset:
			if err := b.resetPassword(ctx, st, user.ID, true); err != nil {
				return err
			}
			res.PasswordReset = true
		case b.cfg.AutoReset && !VerifyPassword(b.cfg.Password, user.HashedPassword):
			if err := b.resetPassword(ctx, st, user.ID, user.PasswordChangeRequired); err != nil {
				return err
			}
			res.PasswordReset = true
		}

		if b.cfg.FullName != "" && b.cfg.FullName != user.FullName {
			if err := st.UpdateFullName(ctx, user.ID, b.cfg.FullName); err != nil {
				return err
			}
			res.NameUpdated = true
		}
		userID = user.ID
		return nil
	})
	if err != nil {
		return res, err
	}
	b.assignRole(ctx, userID)
	return res, nil
}

func (b *Bootstrapper) resetPassword(ctx context.Context, st *Store, userID int64, changeRequired bool) error {
	hash, err := b.hashFunc(b.cfg.Password)
	if err != nil {
		return err
	}
	if err := st.UpdatePassword(ctx, userID, hash, changeRequired); err != nil {
		return err
	}
	_, err = st.RevokeAllRefreshTokens(ctx, userID)
	return err
}

// assignRole links the admin role when RBAC tables exist. The legacy role
// column already grants admin, so failures are only logged.
func (b *Bootstrapper) assignRole(ctx context.Context, userID int64) {
	if b.roles == nil {
		return
	}
	if err := b.roles.AssignRoleByName(ctx, userID, string(RoleAdmin)); err != nil {
		b.logger.WithError(err).Warn("could not assign rbac admin role to default admin")
	}
}
