package audit

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/platinummonkey/sms/pkg/contextkeys"
	"github.com/platinummonkey/sms/pkg/observability"
	"github.com/platinummonkey/sms/pkg/storage"
)

// maxUserAgent bounds the stored user agent
const maxUserAgent = 512

// Service records audit entries. Writes never fail the caller.
type Service struct {
	db      *storage.DB
	store   *Store
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates an audit service. metrics may be nil.
func NewService(db *storage.DB, metrics *observability.Metrics) *Service {
	return &Service{
		db:      db,
		store:   NewStore(db),
		metrics: metrics,
		now:     time.Now,
	}
}

// Store returns the underlying store
func (s *Service) Store() *Store {
	return s.store
}

// Log records e in its own statement. r may be nil for background work.
func (s *Service) Log(ctx context.Context, r *http.Request, e Entry) {
	l := s.build(ctx, r, e)
	err := s.store.Insert(ctx, l)
	s.metrics.ObserveAuditWrite(err)
	if err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("action", e.Action).
			Error("failed to write audit log")
	}
}

// LogTx records e inside the caller's transaction. The insert runs under a
// savepoint so a failed write does not abort the transaction.
func (s *Service) LogTx(ctx context.Context, tx storage.Querier, r *http.Request, e Entry) {
	logger := observability.FromContext(ctx).WithField("action", e.Action)

	if _, err := tx.ExecContext(ctx, "SAVEPOINT audit_log"); err != nil {
		s.metrics.ObserveAuditWrite(err)
		logger.WithError(err).Error("failed to write audit log")
		return
	}

	l := s.build(ctx, r, e)
	err := s.store.With(tx).Insert(ctx, l)
	s.metrics.ObserveAuditWrite(err)
	if err != nil {
		logger.WithError(err).Error("failed to write audit log")
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT audit_log"); rbErr != nil {
			logger.WithError(rbErr).Error("failed to roll back audit savepoint")
		}
		return
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT audit_log"); err != nil {
		logger.WithError(err).Warn("failed to release audit savepoint")
	}
}

func (s *Service) build(ctx context.Context, r *http.Request, e Entry) *Log {
	l := &Log{
		Action:       e.Action,
		Resource:     e.Resource,
		ResourceID:   stringPtr(e.ResourceID),
		Details:      e.Details,
		Success:      e.Success,
		ErrorMessage: stringPtr(e.ErrorMessage),
		Timestamp:    s.now().UTC(),
	}

	if actor, ok := actorFromContext(ctx); ok {
		if id := actor.ActorID(); id > 0 {
			l.UserID = &id
		}
		l.UserEmail = stringPtr(actor.ActorEmail())
	}
	if e.UserID != nil {
		id := *e.UserID
		l.UserID = &id
	}
	if e.UserEmail != "" {
		l.UserEmail = stringPtr(e.UserEmail)
	}

	if r != nil {
		l.IPAddress = stringPtr(ClientIP(r))
		ua := r.UserAgent()
		if len(ua) > maxUserAgent {
			ua = ua[:maxUserAgent]
		}
		l.UserAgent = stringPtr(ua)
	}
	return l
}

// ClientIP returns the address resolved by the RealIP middleware, or the
// peer address when none was stored. Forwarding headers are never read here.
func ClientIP(r *http.Request) string {
	if ip, ok := contextkeys.GetClientIP(r.Context()); ok {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
