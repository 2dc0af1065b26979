// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/sms/pkg/contextkeys"
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	principal, _ := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: RBAC enforcement, audit service, /auth/me
	// Type: *auth.Principal
	PrincipalKey Key = "principal"

	// RequestIDKey contains the request ID string
	// Set by: middleware.RequestID
	// Used by: Logger, envelope meta, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LanguageKey contains the negotiated message language ("en" or "el")
	// Set by: middleware.Envelope
	// Used by: httputil error rendering
	// Type: string
	LanguageKey Key = "language"

	// LoggerKey contains *logrus.Entry
	// Set by: middleware.RequestID
	// Used by: Handlers that need structured logging with request context
	// Type: *logrus.Entry
	LoggerKey Key = "logger"

	// AppVersionKey contains the application version reported in envelope meta
	// Set by: middleware.Envelope
	// Used by: httputil envelope rendering
	// Type: string
	AppVersionKey Key = "app_version"

	// RequestStartTimeKey contains request start timestamp
	// Set by: middleware.RequestID
	// Used by: access log, X-Process-Time
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"

	// ClientIPKey contains the resolved client address
	// Set by: middleware.RealIP
	// Used by: audit trail, rate limiting
	// Type: string
	ClientIPKey Key = "client_ip"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLanguage adds the negotiated language to the context
func WithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, LanguageKey, lang)
}

// WithAppVersion adds the application version to the context
func WithAppVersion(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, AppVersionKey, version)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// WithClientIP adds the resolved client address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP retrieves the resolved client address
func GetClientIP(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(ClientIPKey).(string)
	return ip, ok && ip != ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// LookupLanguage returns the negotiated language if one was stored
func LookupLanguage(ctx context.Context) (string, bool) {
	lang, ok := ctx.Value(LanguageKey).(string)
	return lang, ok && lang != ""
}

// GetAppVersion retrieves the application version
func GetAppVersion(ctx context.Context) string {
	v, _ := ctx.Value(AppVersionKey).(string)
	return v
}

// GetRequestStartTime retrieves the request start time
func GetRequestStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return t, ok
}
