// Package api assembles the HTTP server: it wires configuration, storage,
// the auth, rbac, audit and roster services, the middleware stack and the
// lifespan into one http.Handler.
//
// # Routes
//
//   - /api/v1/auth/*      login, register, refresh, logout, me, change-password
//   - /api/v1/rbac/*      role and permission administration (rbac.manage)
//   - /api/v1/audit/logs  audit search and export (audit.read)
//   - /api/v1/students, /courses, /enrollments, /exports
//   - /api/v1/security/csrf and /security/csrf
//   - /control/api/status, /health[/live|/ready], /metrics
//
// Unknown GETs outside the API fall back to the SPA index when frontend
// serving is enabled. Everything else answers with an error envelope.
//
// # Usage
//
//	settings, err := config.Load()
//	srv, err := api.New(ctx, settings, logger)
//	err = srv.Run(ctx)
package api
