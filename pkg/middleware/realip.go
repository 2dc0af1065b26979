package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/sms/pkg/contextkeys"
)

// RealIP stores the client address in the request context. X-Forwarded-For
// and X-Real-IP are read only when the peer is one of trusted; the forwarded
// chain is walked from the right and the first untrusted hop wins.
func RealIP(trusted []*net.IPNet) func(http.Handler) http.Handler {
	isTrusted := func(ip net.IP) bool {
		for _, n := range trusted {
			if n.Contains(ip) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := peerHost(r.RemoteAddr)
			if peer := net.ParseIP(client); peer != nil && isTrusted(peer) {
				if fwd := forwardedClient(r, isTrusted); fwd != "" {
					client = fwd
				}
			}
			next.ServeHTTP(w, r.WithContext(contextkeys.WithClientIP(r.Context(), client)))
		})
	}
}

func forwardedClient(r *http.Request, isTrusted func(net.IP) bool) string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	last := ""
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			break
		}
		last = ip.String()
		if !isTrusted(ip) {
			return last
		}
	}
	if last != "" {
		return last
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return ""
}

func peerHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
