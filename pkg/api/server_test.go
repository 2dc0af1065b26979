package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/auth"
	"github.com/platinummonkey/sms/pkg/config"
	"github.com/platinummonkey/sms/pkg/httputil"
)

const (
	testSecret        = "k9Qv2xN7bL4mR8tY1wZ5cH3jF6gD0sPaE2uV7yX4"
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "Adm1n-Bootstrap-Pass!"
)

// newTestServer builds and starts a server on an in-memory database and
// waits for the startup tasks
func newTestServer(t *testing.T, overrides map[string]interface{}) *Server {
	t.Helper()
	root := t.TempDir()
	envFile := filepath.Join(root, "empty.env")
	require.NoError(t, os.WriteFile(envFile, []byte(""), 0o600))

	logger, _ := test.NewNullLogger()
	opts := []config.Option{
		config.WithProjectRoot(root),
		config.WithEnvFile(envFile),
		config.WithTestRun(false),
		config.WithLogger(logger),
		config.WithOverride("secret_key", testSecret),
		config.WithOverride("sqlite_path", ":memory:"),
		config.WithOverride("csrf_enabled", false),
		config.WithOverride("export_dir", filepath.Join(root, "exports")),
		config.WithOverride("default_admin_email", testAdminEmail),
		config.WithOverride("default_admin_password", testAdminPassword),
	}
	for k, v := range overrides {
		opts = append(opts, config.WithOverride(k, v))
	}
	settings, err := config.Load(opts...)
	require.NoError(t, err)

	srv, err := New(context.Background(), settings, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	srv.Start(context.Background())
	select {
	case <-srv.Lifespan().Ready():
	case <-time.After(10 * time.Second):
		t.Fatal("startup tasks did not finish")
	}
	require.NoError(t, srv.Lifespan().Result().Migrations)
	return srv
}

func request(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) httputil.Envelope {
	t.Helper()
	var raw struct {
		httputil.Envelope
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.Envelope
}

func login(t *testing.T, srv *Server) string {
	t.Helper()
	rec := request(t, srv, http.MethodPost, "/api/v1/auth/login",
		`{"email":"`+testAdminEmail+`","password":"`+testAdminPassword+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pair auth.TokenPair
	env := decodeEnvelope(t, rec, &pair)
	assert.True(t, env.Success)
	require.NotEmpty(t, pair.AccessToken)
	return pair.AccessToken
}

func TestServerHealthAndStatus(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := request(t, srv, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = request(t, srv, http.MethodGet, "/control/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	env := decodeEnvelope(t, rec, &status)
	assert.True(t, env.Success)
	assert.Equal(t, "1.0.0", env.Meta.Version)
	assert.Equal(t, "ok", status.Status)
	assert.True(t, status.StartupComplete)
	assert.NotEmpty(t, status.MigrationRevision)
	assert.Equal(t, string(config.AuthDisabled), status.AuthMode)
}

func TestServerErrorEnvelopes(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := request(t, srv, http.MethodGet, "/api/v1/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec, nil)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "HTTP_404", env.Error.Code)

	rec = request(t, srv, http.MethodPut, "/control/api/status", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	env = decodeEnvelope(t, rec, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, "HTTP_405", env.Error.Code)

	rec = request(t, srv, http.MethodGet, "/api/v1/does-not-exist", "", map[string]string{"Accept-Language": "el"})
	env = decodeEnvelope(t, rec, nil)
	require.NotNil(t, env.Error)
	assert.NotEmpty(t, env.Error.Message)
}

func TestServerCSRFToken(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := request(t, srv, http.MethodGet, "/api/v1/security/csrf", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Result().Cookies())
}

func TestServerAuthDisabledUsesSyntheticAdmin(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := request(t, srv, http.MethodPost, "/api/v1/students/",
		`{"first_name":"Maria","last_name":"Papadopoulou","student_id":"S-100","email":"Maria@Example.com"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = request(t, srv, http.MethodGet, "/api/v1/students/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page httputil.Page
	decodeEnvelope(t, rec, &page)
	assert.EqualValues(t, 1, page.Total)
}

func TestServerStrictAuthFlow(t *testing.T) {
	srv := newTestServer(t, map[string]interface{}{
		"auth_enabled": true,
		"auth_mode":    "strict",
	})
	assert.NoError(t, srv.Lifespan().Result().Bootstrap)

	rec := request(t, srv, http.MethodGet, "/api/v1/students/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decodeEnvelope(t, rec, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, httputil.CodeUnauthorized, env.Error.Code)
	assert.Equal(t, map[string]interface{}{"error_id": "E2000"}, env.Error.Details)

	rec = request(t, srv, http.MethodPost, "/api/v1/auth/login",
		`{"email":"`+testAdminEmail+`","password":"wrong-password"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env = decodeEnvelope(t, rec, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, httputil.CodeInvalidCredentials, env.Error.Code)

	token := login(t, srv)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	rec = request(t, srv, http.MethodGet, "/api/v1/auth/me", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = request(t, srv, http.MethodGet, "/api/v1/students/", "", bearer)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = request(t, srv, http.MethodGet, "/api/v1/audit/logs", "", bearer)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestServerFrontendFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o600))

	srv := newTestServer(t, map[string]interface{}{
		"serve_frontend": true,
		"frontend_dir":   dir,
	})

	rec := request(t, srv, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "app")

	rec = request(t, srv, http.MethodGet, "/students/42", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = request(t, srv, http.MethodGet, "/assets/app.js", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console.log")

	rec = request(t, srv, http.MethodGet, "/api/v1/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestIsAPIPath(t *testing.T) {
	assert.True(t, isAPIPath("/api/v1/students"))
	assert.True(t, isAPIPath("/api"))
	assert.True(t, isAPIPath("/health/live"))
	assert.True(t, isAPIPath("/control/api/status"))
	assert.False(t, isAPIPath("/students/1"))
	assert.False(t, isAPIPath("/apis"))
}

func TestServerShutdownIsIdempotent(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, srv.Lifespan().Stop(ctx))
	assert.NoError(t, srv.Lifespan().Stop(ctx))
}
