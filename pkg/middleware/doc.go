// Package middleware holds the HTTP middleware that wraps every request.
//
// The server assembles them outermost first:
//
//	Recovery -> TrustedHost -> RealIP -> RequestID -> AccessLog -> Timing ->
//	GZip -> Envelope -> SecurityHeaders -> CORS -> CSRF -> RateLimit -> Auth -> router
//
// GZip sits outside Envelope so the envelope sees uncompressed JSON, and
// Recovery sits outermost so a panic in any other layer still yields a 500
// envelope carrying the request ID.
//
// Authentication never rejects a request by itself. AuthMiddleware attaches
// an auth.Principal when a valid bearer token is present. With
// authentication disabled a tokenless request gets the synthetic
// administrator instead. Route guards from
// pkg/rbac decide what the caller may do.
//
// Rate limiting applies per client IP to the authentication endpoints. The
// IP comes from RealIP, which honors X-Forwarded-For only from
// TRUSTED_PROXIES peers.
// RateLimiter keeps token buckets in process; DistributedRateLimiter shares
// a fixed window counter through Redis and fails open when Redis is down.
package middleware
