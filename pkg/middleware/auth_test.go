package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/auth"
)

type stubAuthenticator struct {
	principals map[string]*auth.Principal
	err        error
	calls      int
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (*auth.Principal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.principals[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return p, nil
}

func principalRecorder() (http.Handler, **auth.Principal) {
	var got *auth.Principal
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}), &got
}

func TestAuthMiddleware(t *testing.T) {
	teacher := &auth.Principal{UserID: 7, Email: "t@example.com", Role: auth.RoleTeacher}
	stub := &stubAuthenticator{principals: map[string]*auth.Principal{"good": teacher}}
	m := NewAuthMiddleware(stub, true)

	tests := []struct {
		name   string
		header string
		want   *auth.Principal
	}{
		{name: "valid bearer", header: "Bearer good", want: teacher},
		{name: "lowercase scheme", header: "bearer good", want: teacher},
		{name: "invalid token stays anonymous", header: "Bearer bad"},
		{name: "wrong scheme", header: "Basic Z29vZA=="},
		{name: "no header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, got := principalRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/students", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			m.Handler(next).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestAuthMiddleware_BackendErrorStaysAnonymous(t *testing.T) {
	stub := &stubAuthenticator{err: errors.New("db down")}
	next, got := principalRecorder()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	NewAuthMiddleware(stub, true).Handler(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Nil(t, *got)
	assert.Equal(t, 1, stub.calls)
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	stub := &stubAuthenticator{}
	next, got := principalRecorder()

	NewAuthMiddleware(stub, false).Handler(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, *got)
	assert.True(t, (*got).Synthetic)
	assert.Equal(t, auth.RoleAdmin, (*got).Role)
	assert.Zero(t, stub.calls)
}

func TestAuthMiddleware_DisabledHonorsBearerToken(t *testing.T) {
	teacher := &auth.Principal{UserID: 7, Email: "t@example.com", Role: auth.RoleTeacher}
	stub := &stubAuthenticator{principals: map[string]*auth.Principal{"good": teacher}}
	m := NewAuthMiddleware(stub, false)

	tests := []struct {
		name      string
		header    string
		synthetic bool
	}{
		{name: "valid bearer uses real principal", header: "Bearer good"},
		{name: "invalid bearer falls back", header: "Bearer bad", synthetic: true},
		{name: "no header falls back", synthetic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, got := principalRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			m.Handler(next).ServeHTTP(httptest.NewRecorder(), req)

			require.NotNil(t, *got)
			if tt.synthetic {
				assert.True(t, (*got).Synthetic)
				assert.Equal(t, auth.RoleAdmin, (*got).Role)
				return
			}
			assert.Equal(t, teacher, *got)
		})
	}
}
