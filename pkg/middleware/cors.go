package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

// localOriginPattern matches development frontends served from localhost
var localOriginPattern = regexp.MustCompile(`^http://(localhost|127\.0\.0\.1)(:\d+)?$`)

// CORS allows credentialed cross-origin requests from origins and, when
// allowLocalhost is set, from any localhost port. A "*" entry admits every
// other origin without credentials. Preflight requests are answered directly.
func CORS(origins []string, allowLocalhost bool) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
		}
		if o != "" && o != "*" {
			allowed[o] = true
		}
	}

	// credentialed reports whether origin is listed explicitly
	credentialed := func(origin string) bool {
		return allowed[origin] || (allowLocalhost && localOriginPattern.MatchString(origin))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			withCredentials := origin != "" && credentialed(origin)
			if origin == "" || (!withCredentials && !wildcard) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			if withCredentials {
				// credentials forbid a literal "*", so echo the origin
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
			} else {
				h.Set("Access-Control-Allow-Origin", "*")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD")
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				} else {
					h.Set("Access-Control-Allow-Headers", "*")
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusOK)
				return
			}

			h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Process-Time, Retry-After, Content-Disposition")
			next.ServeHTTP(w, r)
		})
	}
}
