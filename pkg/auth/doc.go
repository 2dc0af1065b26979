// Package auth provides identity and authentication for the service.
//
// # Overview
//
// Users authenticate with an email and password. A successful login mints a
// short-lived HS256 access token and a long-lived opaque refresh token. Only
// an HMAC of the refresh token is persisted, so a database leak does not
// expose usable refresh tokens.
//
// # Key Components
//
// Passwords: PBKDF2-SHA256 hashes in the tagged modular-crypt form
//
//	$pbkdf2-sha256$<rounds>$<salt>$<checksum>
//
// Tokens: TokenManager issues and parses access tokens and derives refresh
// token hashes from the configured secret key.
//
// Lockout: a LoginTracker keeps a per-email sliding window of failures.
// Reaching the configured maximum locks the email for the lockout period.
// MemoryTracker is process local; RedisTracker shares state between
// replicas.
//
// Service: login, register, refresh, logout, me and change-password.
//
// Bootstrapper: reconciles the configured default administrator at startup.
//
// # Principal
//
// The authentication middleware stores a *Principal in the request context.
// Use PrincipalFromContext to read it:
//
//	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
//		log.Printf("request by %s", p.Email)
//	}
package auth
