package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sms/pkg/audit"
	"github.com/platinummonkey/sms/pkg/auth"
	"github.com/platinummonkey/sms/pkg/config"
	"github.com/platinummonkey/sms/pkg/httputil"
	"github.com/platinummonkey/sms/pkg/middleware"
	"github.com/platinummonkey/sms/pkg/observability"
	"github.com/platinummonkey/sms/pkg/rbac"
	"github.com/platinummonkey/sms/pkg/roster"
)

// APIPrefix is where every versioned endpoint lives
const APIPrefix = "/api/v1"

// buildHandler registers the routes and wraps the router in the middleware
// stack described in the middleware package
func (s *Server) buildHandler() (http.Handler, error) {
	s.router = mux.NewRouter()
	s.setupRoutes()

	gzip, err := middleware.GZip(s.settings.GZipMinimumSize)
	if err != nil {
		return nil, err
	}

	chain := []func(http.Handler) http.Handler{middleware.Recovery}
	if s.settings.ExecutionMode == config.ModeDocker {
		chain = append(chain, middleware.TrustedHost(s.settings.TrustedHosts))
	}
	chain = append(chain,
		middleware.RealIP(s.settings.TrustedProxies),
		middleware.RequestID(s.logger),
		middleware.AccessLog(s.router, s.metrics),
		middleware.Timing,
		gzip,
		middleware.Envelope(s.settings.AppVersion, "/metrics"),
		middleware.SecurityHeaders,
		middleware.CORS(s.settings.CORS.Origins, s.settings.CORS.AllowLocalhost),
	)
	if s.settings.CSRF.Enabled && !s.settings.TestRun {
		chain = append(chain, s.csrf.Middleware)
	}
	if s.settings.RateLimit.Enabled {
		chain = append(chain, middleware.RateLimit(s.limiter, APIPrefix+"/auth/"))
	}
	chain = append(chain, middleware.NewAuthMiddleware(s.auth, s.settings.Auth.Enabled).Handler)

	return httputil.Chain(chain...)(s.router), nil
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	r := s.router

	observability.RegisterHealthRoutes(r, s.health)
	if s.settings.Observability.MetricsEnabled {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/control/api/status", s.status).Methods(http.MethodGet)
	r.HandleFunc("/security/csrf", s.csrf.TokenHandler).Methods(http.MethodGet)

	api := r.PathPrefix(APIPrefix).Subrouter()
	api.HandleFunc("/security/csrf", s.csrf.TokenHandler).Methods(http.MethodGet)

	guard := s.enforcer.Guard()
	auth.NewHandlers(s.auth, s.audit, s.rbac.Checker(), s.settings.Auth.CookieSecure).RegisterRoutes(api)
	rbac.NewHandlers(s.rbac, s.audit).RegisterRoutes(api, guard)
	audit.NewHandlers(s.audit.Store()).RegisterRoutes(api, guard)
	roster.NewHandlers(s.roster, s.audit).RegisterRoutes(api, guard)

	if s.settings.Frontend.Serve {
		s.registerFrontend(r)
	}
	r.NotFoundHandler = http.HandlerFunc(s.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorStatus(w, r, http.StatusMethodNotAllowed)
	})
}

// isAPIPath reports whether path belongs to the API or ops surface, which
// never falls back to the SPA
func isAPIPath(path string) bool {
	for _, prefix := range []string{"/api/", "/control/", "/health", "/metrics", "/docs", "/redoc", "/openapi.json"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return path == "/api"
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	if s.settings.Frontend.Serve && r.Method == http.MethodGet && !isAPIPath(r.URL.Path) {
		s.serveIndex(w, r)
		return
	}
	httputil.WriteErrorStatus(w, r, http.StatusNotFound)
}
