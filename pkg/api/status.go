package api

import (
	"net/http"
	"time"

	"github.com/platinummonkey/sms/pkg/httputil"
)

// StatusResponse is the payload of /control/api/status
type StatusResponse struct {
	Status            string    `json:"status"`
	Version           string    `json:"version"`
	Environment       string    `json:"environment"`
	ExecutionMode     string    `json:"execution_mode"`
	AuthMode          string    `json:"auth_mode"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
	MigrationRevision string    `json:"migration_revision"`
	StartupComplete   bool      `json:"startup_complete"`
}

// status handles GET /control/api/status
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:        "ok",
		Version:       s.settings.AppVersion,
		Environment:   string(s.settings.Env),
		ExecutionMode: string(s.settings.ExecutionMode),
		AuthMode:      string(s.settings.Auth.Mode),
		StartedAt:     s.lifespan.StartedAt(),
	}
	if !resp.StartedAt.IsZero() {
		resp.UptimeSeconds = int64(time.Since(resp.StartedAt).Seconds())
	}

	select {
	case <-s.lifespan.Ready():
		resp.StartupComplete = true
	default:
	}

	// the revision is read only once migrations are no longer running
	if resp.StartupComplete {
		rev, err := s.migrations.CurrentRevision(r.Context())
		if err != nil {
			resp.Status = "degraded"
		}
		resp.MigrationRevision = rev
	}
	_ = httputil.WriteSuccess(w, resp)
}
