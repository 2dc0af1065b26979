// Package audit records security relevant actions in the append-only
// audit_logs table and serves them to administrators.
//
// # Recording
//
// Handlers call Service.Log after an action, or Service.LogTx inside the
// transaction that performs it. The actor is taken from the request
// principal, the client IP from the RealIP middleware (which reads
// forwarding headers only from trusted proxies) or the peer address, and
// free-form details are stored as JSON. A failed audit write
// is logged and never fails the action being audited:
//
//	svc.Log(ctx, r, audit.Entry{
//		Action:     audit.ActionBulkExport,
//		Resource:   audit.ResourceExport,
//		Details:    map[string]interface{}{"filename": name},
//		Success:    true,
//	})
//
// # Querying
//
// GET /api/v1/audit/logs filters by user, action, resource, resource id,
// time range and outcome, newest first. GET /api/v1/audit/logs/{id} returns
// one entry and GET /api/v1/audit/logs/export streams the filtered set as
// CSV, JSON or NDJSON.
//
// # Retention
//
// Store.Prune deletes entries older than a cutoff; the maintenance
// scheduler calls it daily when a retention period is configured.
package audit
