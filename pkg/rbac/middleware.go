package rbac

import (
	"net/http"

	"github.com/platinummonkey/sms/pkg/auth"
	"github.com/platinummonkey/sms/pkg/config"
	"github.com/platinummonkey/sms/pkg/httputil"
	"github.com/platinummonkey/sms/pkg/observability"
)

// Enforcer guards routes according to the global auth mode
type Enforcer struct {
	checker *Checker
	mode    config.AuthMode
	metrics *observability.Metrics
}

// NewEnforcer creates an enforcer. metrics may be nil.
func NewEnforcer(checker *Checker, mode config.AuthMode, metrics *observability.Metrics) *Enforcer {
	if mode == "" {
		mode = config.AuthDisabled
	}
	return &Enforcer{checker: checker, mode: mode, metrics: metrics}
}

// Mode returns the enforcement mode
func (e *Enforcer) Mode() config.AuthMode {
	return e.mode
}

// Guard adapts the enforcer for packages that register their own routes
func (e *Enforcer) Guard() httputil.Guard {
	return e.RequirePermission
}

// RequirePermission creates middleware that requires permission.
//
// In disabled mode every request passes as the synthetic administrator.
// In permissive mode any authenticated caller passes. In strict mode the
// caller's effective permissions must satisfy permission.
func (e *Enforcer) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := auth.PrincipalFromContext(ctx)

			if e.mode == config.AuthDisabled {
				if !ok {
					r = r.WithContext(auth.WithPrincipal(ctx, auth.SyntheticAdmin()))
				}
				next.ServeHTTP(w, r)
				return
			}

			if !ok {
				httputil.WriteError(w, r, httputil.ErrUnauthorized)
				return
			}
			if e.mode == config.AuthPermissive {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := e.checker.HasPermission(ctx, principal, permission)
			if err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			if !allowed {
				e.metrics.ObserveDenial(permission)
				observability.FromContext(ctx).WithField("permission", permission).
					WithField("user_id", principal.UserID).Info("permission denied")
				httputil.WriteError(w, r, httputil.ErrForbidden.
					WithDetail("required_permission", permission).
					WithDetail("current_role", string(principal.Role)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
