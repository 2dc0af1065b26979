package audit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sms/pkg/httputil"
)

const (
	// PermissionRead guards the audit API
	PermissionRead = "audit.read"

	defaultPageSize = 100
	maxPageSize     = 1000
	maxExportRows   = 10000
)

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	store *Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers audit routes on the /api/v1 subrouter
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/audit/logs", guard.Protect(PermissionRead, h.listLogs)).Methods(http.MethodGet)
	router.Handle("/audit/logs/export", guard.Protect(PermissionRead, h.exportLogs)).Methods(http.MethodGet)
	router.Handle("/audit/logs/{id:[0-9]+}", guard.Protect(PermissionRead, h.getLog)).Methods(http.MethodGet)
}

// listLogs handles GET /audit/logs
func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	params, err := httputil.ParsePageParams(r, defaultPageSize, maxPageSize)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	filter.Skip = params.Skip
	filter.Limit = params.Limit

	total, err := h.store.Count(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	logs, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, httputil.NewPage(logs, total, params))
}

// getLog handles GET /audit/logs/{id}
func (h *Handlers) getLog(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	l, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, httputil.NotFound(httputil.CodeAuditLogNotFound, "errors.audit_log_not_found").Wrap(err))
		return
	}
	_ = httputil.WriteSuccess(w, l)
}

// exportLogs handles GET /audit/logs/export
func (h *Handlers) exportLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatCSV)))
	switch format {
	case ExportFormatCSV, ExportFormatJSON, ExportFormatNDJSON:
	default:
		httputil.WriteError(w, r, httputil.InvalidField("format", "must be one of: csv json ndjson"))
		return
	}
	filter.Limit = maxExportRows

	logs, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	data, err := Export(logs, format)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	filename := fmt.Sprintf("audit-logs-%s.%s", time.Now().UTC().Format("20060102T150405Z"), format)
	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseFilter parses search filters from query parameters
func parseFilter(r *http.Request) (SearchFilter, error) {
	var (
		filter SearchFilter
		err    error
	)

	if filter.UserID, err = httputil.ParseQueryOptionalInt64(r, "user_id"); err != nil {
		return filter, err
	}
	if s := httputil.ParseQueryString(r, "action", ""); s != "" {
		filter.Action = ParseAction(s)
		if !filter.Action.Valid() {
			return filter, httputil.InvalidField("action", "unknown action")
		}
	}
	if s := httputil.ParseQueryString(r, "resource", ""); s != "" {
		filter.Resource = ParseResource(s)
		if !filter.Resource.Valid() {
			return filter, httputil.InvalidField("resource", "unknown resource")
		}
	}
	filter.ResourceID = httputil.ParseQueryString(r, "resource_id", "")

	if filter.StartTime, err = httputil.ParseQueryTime(r, "start_date"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = httputil.ParseQueryTime(r, "end_date"); err != nil {
		return filter, err
	}
	if filter.StartTime != nil && filter.EndTime != nil && filter.EndTime.Before(*filter.StartTime) {
		return filter, httputil.InvalidField("end_date", "must not be before start_date")
	}
	if filter.Success, err = httputil.ParseQueryOptionalBool(r, "success"); err != nil {
		return filter, err
	}
	return filter, nil
}
