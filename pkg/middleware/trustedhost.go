package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/sms/pkg/httputil"
)

// TrustedHost rejects requests whose Host header is not in hosts. Entries
// may be exact names, "*.example.com" suffix patterns or "*".
func TrustedHost(hosts []string) func(http.Handler) http.Handler {
	allowAll := false
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if h == "*" {
			allowAll = true
		}
		normalized = append(normalized, h)
	}

	return func(next http.Handler) http.Handler {
		if allowAll || len(normalized) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hostAllowed(requestHost(r), normalized) {
				httputil.WriteError(w, r, httputil.ErrHostNotAllowed)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

func hostAllowed(host string, patterns []string) bool {
	for _, p := range patterns {
		if strings.HasPrefix(p, "*.") {
			if strings.HasSuffix(host, p[1:]) || host == p[2:] {
				return true
			}
			continue
		}
		if host == p {
			return true
		}
	}
	return false
}
