package middleware

import (
	"net/http"
	"strings"
)

const permissionsPolicy = "camera=(), microphone=(), geolocation=(), payment=(), usb=()"

// noStorePrefixes are API and operational paths that must never be cached
var noStorePrefixes = []string{"/api/", "/docs", "/redoc", "/openapi.json", "/control", "/health", "/metrics"}

// SecurityHeaders sets the hardening headers and a cache policy chosen by
// path
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", permissionsPolicy)
		applyCachePolicy(h, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func applyCachePolicy(h http.Header, path string) {
	switch {
	case strings.HasPrefix(path, "/assets/"):
		h.Set("Cache-Control", "public, max-age=31536000, immutable")
	case path == "/" || path == "/index.html":
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate, public, max-age=0")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
	case path == "/api":
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	default:
		for _, p := range noStorePrefixes {
			if strings.HasPrefix(path, p) {
				h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
				return
			}
		}
	}
}
