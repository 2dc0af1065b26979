package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/contextkeys"
	"github.com/platinummonkey/sms/pkg/httputil"
	"github.com/platinummonkey/sms/pkg/i18n"
)

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
		Path    *string         `json:"path"`
	} `json:"error"`
	Meta httputil.Meta `json:"meta"`
}

func decodeTestEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func withRequestID(id string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(contextkeys.WithRequestID(r.Context(), id)))
	})
}

func TestEnvelope_WrapsSuccess(t *testing.T) {
	h := withRequestID("req-1", Envelope("2.0.0")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httputil.WriteSuccess(w, map[string]int{"count": 3})
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/things", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeTestEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"count":3}`, string(env.Data))
	assert.Nil(t, env.Error)
	assert.Equal(t, "req-1", env.Meta.RequestID)
	assert.Equal(t, "2.0.0", env.Meta.Version)
	assert.NotEmpty(t, env.Meta.Timestamp)
	assert.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))
}

func TestEnvelope_PreservesStatus(t *testing.T) {
	h := Envelope("1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httputil.WriteCreated(w, []string{"a"})
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/things", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	env := decodeTestEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.JSONEq(t, `["a"]`, string(env.Data))
}

func TestEnvelope_ExistingEnvelopePassesThrough(t *testing.T) {
	h := withRequestID("req-2", Envelope("1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, httputil.ErrForbidden)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/things/1", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	env := decodeTestEnvelope(t, rec)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, httputil.CodeForbidden, env.Error.Code)
	assert.Equal(t, "req-2", env.Meta.RequestID)
}

func TestEnvelope_WrapsPlainErrorPayload(t *testing.T) {
	h := Envelope("1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"detail": "gone"})
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeTestEnvelope(t, rec)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "HTTP_404", env.Error.Code)
	assert.Equal(t, i18n.Message("errors.not_found", i18n.LangEN), env.Error.Message)
	assert.JSONEq(t, `{"detail":"gone"}`, string(env.Error.Details))
	require.NotNil(t, env.Error.Path)
	assert.Equal(t, "/api/v1/missing", *env.Error.Path)
}

func TestEnvelope_GreekMessages(t *testing.T) {
	h := Envelope("1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, httputil.ErrForbidden)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/things", nil)
	req.Header.Set("Accept-Language", "el-GR,el;q=0.9,en;q=0.5")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	env := decodeTestEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, i18n.Message("errors.forbidden", i18n.LangEL), env.Error.Message)
}

func TestEnvelope_SkipsNonJSON(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		path    string
		skip    []string
	}{
		{
			name: "content disposition",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Content-Disposition", `attachment; filename="export.json"`)
				_, _ = w.Write([]byte(`{"raw":true}`))
			},
			path: "/api/v1/exports/1",
		},
		{
			name: "plain text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				_, _ = w.Write([]byte(`{"raw":true}`))
			},
			path: "/metrics",
		},
		{
			name: "skipped path",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = httputil.WriteSuccess(w, map[string]bool{"raw": true})
			},
			path: "/openapi.json",
			skip: []string{"/openapi.json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Envelope("1", tt.skip...)(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.JSONEq(t, `{"raw":true}`, rec.Body.String())
		})
	}
}

func TestEnvelope_NoContent(t *testing.T) {
	h := Envelope("1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/things/1", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestEnvelope_SetsContextLanguage(t *testing.T) {
	var lang string
	h := Envelope("1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang, _ = contextkeys.LookupLanguage(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x?lang=el", nil))
	assert.Equal(t, i18n.LangEL, lang)
}
