package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/platinummonkey/sms/pkg/config"
	"github.com/platinummonkey/sms/pkg/httputil"
	"github.com/platinummonkey/sms/pkg/observability"
)

const (
	csrfNonceBytes = 32
	// maxCSRFBody bounds how much of a body is read to find the token field
	maxCSRFBody = 1 << 20
)

// CSRF implements double-submit cookie protection. Tokens are a random
// nonce plus an HMAC of it under the secret key, so a cookie planted by a
// sibling subdomain is rejected.
type CSRF struct {
	cfg     config.CSRFSettings
	secret  []byte
	metrics *observability.Metrics
}

// NewCSRF creates the CSRF protector. metrics may be nil.
func NewCSRF(cfg config.CSRFSettings, secretKey string, metrics *observability.Metrics) *CSRF {
	return &CSRF{cfg: cfg, secret: []byte(secretKey), metrics: metrics}
}

// GenerateToken returns a new signed token
func (c *CSRF) GenerateToken() (string, error) {
	nonce := make([]byte, csrfNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	n := hex.EncodeToString(nonce)
	return n + "." + c.sign(n), nil
}

func (c *CSRF) sign(nonce string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *CSRF) signed(token string) bool {
	nonce, sig, ok := strings.Cut(token, ".")
	if !ok || nonce == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(c.sign(nonce)))
}

// TokenHandler serves GET /security/csrf: it sets the token cookie and
// returns the same token in the body
func (c *CSRF) TokenHandler(w http.ResponseWriter, r *http.Request) {
	token, err := c.GenerateToken()
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   c.cfg.CookieSecure,
		SameSite: sameSite(c.cfg.CookieSameSite),
	})
	_ = httputil.WriteSuccess(w, map[string]string{
		"csrf_token":  token,
		"header_name": c.cfg.HeaderName,
	})
}

func sameSite(v string) http.SameSite {
	switch v {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// Middleware rejects state-changing requests on non-exempt paths unless
// the submitted token matches the token cookie
func (c *CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethod(r.Method) || c.exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if reason := c.check(r); reason != "" {
			c.metrics.ObserveCSRFRejection()
			observability.FromContext(r.Context()).WithField("reason", reason).
				WithField("path", r.URL.Path).Warn("csrf validation failed")
			httputil.WriteError(w, r, httputil.ErrCSRFFailed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CSRF) check(r *http.Request) string {
	cookie, err := r.Cookie(c.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return "missing cookie"
	}
	submitted := r.Header.Get(c.cfg.HeaderName)
	if submitted == "" && c.cfg.TokenLocation == "body" {
		submitted = c.tokenFromBody(r)
	}
	if submitted == "" {
		return "missing token"
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(cookie.Value)) != 1 {
		return "token mismatch"
	}
	if !c.signed(submitted) {
		return "bad signature"
	}
	return ""
}

// tokenFromBody reads the token field from a form or JSON body and
// restores the body for the handler
func (c *CSRF) tokenFromBody(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxCSRFBody))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]interface{}
		if json.Unmarshal(data, &body) != nil {
			return ""
		}
		s, _ := body[c.cfg.BodyField].(string)
		return s
	case "application/x-www-form-urlencoded":
		clone := r.Clone(r.Context())
		clone.Body = io.NopCloser(bytes.NewReader(data))
		if clone.ParseForm() != nil {
			return ""
		}
		return clone.PostForm.Get(c.cfg.BodyField)
	}
	return ""
}

func (c *CSRF) exempt(path string) bool {
	for _, p := range c.cfg.ExemptPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
