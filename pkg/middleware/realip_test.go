package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/contextkeys"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

func TestRealIP(t *testing.T) {
	trusted := []*net.IPNet{mustCIDR(t, "10.0.0.0/8")}

	tests := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted []*net.IPNet
		want    string
	}{
		{name: "no proxies configured ignores headers", remote: "10.0.0.2:1234", xff: "203.0.113.7", want: "10.0.0.2"},
		{name: "untrusted peer ignores headers", remote: "192.0.2.9:1234", xff: "203.0.113.7", realIP: "198.51.100.4", trusted: trusted, want: "192.0.2.9"},
		{name: "trusted peer uses forwarded", remote: "10.0.0.2:1234", xff: "203.0.113.7", trusted: trusted, want: "203.0.113.7"},
		{name: "rightmost untrusted hop wins", remote: "10.0.0.2:1234", xff: "198.51.100.66, 203.0.113.7, 10.0.0.5", trusted: trusted, want: "203.0.113.7"},
		{name: "all hops trusted", remote: "10.0.0.2:1234", xff: "10.1.1.1, 10.0.0.5", trusted: trusted, want: "10.1.1.1"},
		{name: "garbage hop stops the walk", remote: "10.0.0.2:1234", xff: "not-an-ip", trusted: trusted, want: "10.0.0.2"},
		{name: "real ip fallback", remote: "10.0.0.2:1234", realIP: "198.51.100.4", trusted: trusted, want: "198.51.100.4"},
		{name: "peer without port", remote: "192.0.2.10", want: "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := RealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = contextkeys.GetClientIP(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}
