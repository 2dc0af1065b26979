package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sms/pkg/storage"
)

// Maintenance job names
const (
	JobExportCleanup  = "export_cleanup"
	JobTokenPrune     = "refresh_token_prune"
	JobAuditRetention = "audit_retention"
)

// TokenPruner deletes expired and revoked refresh tokens
type TokenPruner interface {
	PruneRefreshTokens(ctx context.Context) (int64, error)
}

// AuditPruner deletes audit entries older than a cutoff
type AuditPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Maintenance holds what the built-in jobs operate on. Nil members and
// non-positive retentions disable the corresponding job.
type Maintenance struct {
	Exports        storage.ObjectStore
	ExportPrefix   string
	ExportMaxAge   time.Duration
	Tokens         TokenPruner
	Audit          AuditPruner
	AuditRetention time.Duration

	Now func() time.Time
}

// Jobs returns the enabled maintenance jobs
func (m Maintenance) Jobs(logger logrus.FieldLogger) []Job {
	now := m.Now
	if now == nil {
		now = time.Now
	}

	var jobs []Job
	if m.Exports != nil && m.ExportMaxAge > 0 {
		jobs = append(jobs, Job{
			Name:     JobExportCleanup,
			Schedule: "@hourly",
			Run: func(ctx context.Context) error {
				n, err := storage.PruneObjects(ctx, m.Exports, m.ExportPrefix, now().Add(-m.ExportMaxAge))
				if n > 0 {
					logger.WithField("removed", n).Info("expired exports removed")
				}
				return err
			},
		})
	}
	if m.Tokens != nil {
		jobs = append(jobs, Job{
			Name:     JobTokenPrune,
			Schedule: "30 3 * * *",
			Run: func(ctx context.Context) error {
				n, err := m.Tokens.PruneRefreshTokens(ctx)
				if n > 0 {
					logger.WithField("removed", n).Info("stale refresh tokens removed")
				}
				return err
			},
		})
	}
	if m.Audit != nil && m.AuditRetention > 0 {
		jobs = append(jobs, Job{
			Name:     JobAuditRetention,
			Schedule: "0 4 * * *",
			Run: func(ctx context.Context) error {
				n, err := m.Audit.Prune(ctx, now().Add(-m.AuditRetention))
				if n > 0 {
					logger.WithField("removed", n).Info("audit entries past retention removed")
				}
				return err
			},
		})
	}
	return jobs
}
