package auth

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sms/pkg/audit"
	"github.com/platinummonkey/sms/pkg/httputil"
	"github.com/platinummonkey/sms/pkg/observability"
)

// RefreshCookieName is the cookie carrying the refresh token
const RefreshCookieName = "refresh_token"

// PermissionChecker answers permission questions for a principal. The rbac
// package provides the implementation.
type PermissionChecker interface {
	HasPermission(ctx context.Context, p *Principal, permission string) (bool, error)
}

// Handlers serves the /auth endpoints
type Handlers struct {
	svc          *Service
	audit        *audit.Service
	perms        PermissionChecker
	cookieSecure bool
}

// NewHandlers creates the auth handlers
func NewHandlers(svc *Service, auditSvc *audit.Service, perms PermissionChecker, cookieSecure bool) *Handlers {
	return &Handlers{svc: svc, audit: auditSvc, perms: perms, cookieSecure: cookieSecure}
}

// LoginRequest is the JSON login body. Form posts use username/password.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest carries a refresh token in the body
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest is the change-password body
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128,nefield=CurrentPassword"`
}

// RegisterRoutes mounts the auth endpoints on the /api/v1 subrouter
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	router.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	router.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	router.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	router.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	router.HandleFunc("/auth/change-password", h.changePassword).Methods(http.MethodPost)
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			httputil.WriteError(w, r, httputil.InvalidField("body", "invalid form body"))
			return
		}
		req.Email = r.PostForm.Get("username")
		if req.Email == "" {
			req.Email = r.PostForm.Get("email")
		}
		req.Password = r.PostForm.Get("password")
		if err := httputil.Validate(&req); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	} else if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	pair, user, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		entry := audit.Entry{
			Action:       audit.ActionLoginFailed,
			Resource:     audit.ResourceAuth,
			Success:      false,
			ErrorMessage: err.Error(),
			UserEmail:    NormalizeEmail(req.Email),
		}
		if user != nil {
			entry.UserID = &user.ID
		}
		h.audit.Log(r.Context(), r, entry)
		httputil.WriteError(w, r, mapError(err))
		return
	}

	h.audit.Log(r.Context(), r, audit.Entry{
		Action:    audit.ActionLogin,
		Resource:  audit.ResourceAuth,
		Success:   true,
		UserID:    &user.ID,
		UserEmail: user.Email,
	})
	h.setRefreshCookie(w, pair.RefreshToken)
	_ = httputil.WriteSuccess(w, pair)
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.svc.Register(r.Context(), req, h.privileged(r))
	if err != nil {
		httputil.WriteError(w, r, mapError(err))
		return
	}

	id := strconv.FormatInt(user.ID, 10)
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:     audit.ActionCreate,
		Resource:   audit.ResourceUser,
		ResourceID: id,
		Success:    true,
		Details:    map[string]interface{}{"email": user.Email, "role": user.Role},
	})
	_ = httputil.WriteCreated(w, user)
}

// privileged reports whether the caller holds the wildcard permission.
// Synthetic principals never count.
func (h *Handlers) privileged(r *http.Request) bool {
	p, ok := PrincipalFromContext(r.Context())
	if !ok || p.Synthetic || h.perms == nil {
		return false
	}
	allowed, err := h.perms.HasPermission(r.Context(), p, "*")
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("permission lookup failed during registration")
		return false
	}
	return allowed
}

func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	raw, err := refreshTokenFromRequest(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	pair, user, err := h.svc.Refresh(r.Context(), raw)
	if err != nil {
		httputil.WriteError(w, r, mapError(err))
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:    audit.ActionTokenRefresh,
		Resource:  audit.ResourceAuth,
		Success:   true,
		UserID:    &user.ID,
		UserEmail: user.Email,
	})
	h.setRefreshCookie(w, pair.RefreshToken)
	_ = httputil.WriteSuccess(w, pair)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	raw, err := refreshTokenFromRequest(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	userID, err := h.svc.Logout(r.Context(), raw)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if userID != 0 {
		h.audit.Log(r.Context(), r, audit.Entry{
			Action:   audit.ActionLogout,
			Resource: audit.ResourceAuth,
			Success:  true,
			UserID:   &userID,
		})
	}
	h.clearRefreshCookie(w)
	_ = httputil.WriteSuccess(w, map[string]bool{"logged_out": true})
}

func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, httputil.ErrUnauthorized)
		return
	}
	if p.Synthetic {
		_ = httputil.WriteSuccess(w, &User{Email: p.Email, FullName: p.FullName, Role: p.Role, IsActive: true})
		return
	}
	user, err := h.svc.GetUser(r.Context(), p.UserID)
	if err != nil {
		httputil.WriteError(w, r, mapError(err))
		return
	}
	_ = httputil.WriteSuccess(w, user)
}

func (h *Handlers) changePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok || p.Synthetic {
		httputil.WriteError(w, r, httputil.ErrUnauthorized)
		return
	}
	var req ChangePasswordRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	err := h.svc.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword)
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:       audit.ActionPasswordChange,
		Resource:     audit.ResourceUser,
		ResourceID:   strconv.FormatInt(p.UserID, 10),
		Success:      err == nil,
		ErrorMessage: errorMessage(err),
	})
	if err != nil {
		httputil.WriteError(w, r, mapError(err))
		return
	}
	h.clearRefreshCookie(w)
	_ = httputil.WriteSuccess(w, map[string]bool{"password_changed": true})
}

func (h *Handlers) setRefreshCookie(w http.ResponseWriter, raw string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    raw,
		Path:     "/",
		MaxAge:   int(h.svc.Tokens().RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// refreshTokenFromRequest reads the token from a JSON body, falling back to
// the refresh cookie
func refreshTokenFromRequest(r *http.Request) (string, error) {
	if r.ContentLength != 0 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req RefreshRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			return "", err
		}
		if req.RefreshToken != "" {
			return req.RefreshToken, nil
		}
	}
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		return c.Value, nil
	}
	return "", nil
}

func isForm(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data")
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// mapError converts service errors to API errors
func mapError(err error) error {
	var locked *LockedError
	switch {
	case errors.As(err, &locked):
		secs := int(math.Ceil(locked.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return httputil.NewError(http.StatusTooManyRequests, httputil.CodeAccountLocked, "errors.account_locked").
			WithHeader("Retry-After", strconv.Itoa(secs)).
			WithDetail("retry_after", secs)
	case errors.Is(err, ErrInvalidCredentials):
		return httputil.NewError(http.StatusBadRequest, httputil.CodeInvalidCredentials, "errors.invalid_credentials")
	case errors.Is(err, ErrInvalidToken):
		return httputil.ErrInvalidToken
	case errors.Is(err, ErrUserExists):
		return httputil.Conflict(httputil.CodeUserConflict, "errors.user_conflict")
	case errors.Is(err, ErrUserNotFound):
		return httputil.NotFound(httputil.CodeUserNotFound, "errors.user_not_found")
	case errors.Is(err, ErrInactiveUser):
		return httputil.NewError(http.StatusForbidden, httputil.CodeInactiveUser, "errors.inactive_user")
	case errors.Is(err, ErrPasswordMismatch):
		return httputil.NewError(http.StatusBadRequest, httputil.CodeInvalidCredentials, "errors.password_mismatch")
	case errors.Is(err, ErrAdminForbidden):
		return httputil.NewError(http.StatusForbidden, httputil.CodeForbidden, "errors.admin_registration_forbidden")
	}
	return err
}
