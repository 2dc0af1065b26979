package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/httputil"
	"github.com/platinummonkey/sms/pkg/migrate/migratetest"
)

func allowAll(string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func denyAll(string) func(http.Handler) http.Handler {
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteError(w, r, httputil.ErrForbidden)
		})
	}
}

func setupHandlers(t *testing.T, guard httputil.Guard) (*mux.Router, *Store) {
	t.Helper()
	db := migratetest.NewDB(t)
	store := NewStore(db)
	router := mux.NewRouter()
	NewHandlers(store).RegisterRoutes(router.PathPrefix("/api/v1").Subrouter(), guard)
	return router, store
}

type pageResponse struct {
	Items      []Log `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

func TestListLogsByDateRange(t *testing.T) {
	router, store := setupHandlers(t, allowAll)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Insert(ctx, &Log{
			Action: ActionBulkExport, Resource: ResourceExport, Success: true,
			Details:   map[string]interface{}{"filename": "export-" + strconv.Itoa(i) + ".csv"},
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.Insert(ctx, &Log{Action: ActionLogin, Resource: ResourceAuth, Success: true, Timestamp: now.Add(-48 * time.Hour)}))

	start := now.Add(-time.Hour).Format(time.RFC3339)
	end := now.Add(time.Hour).Format(time.RFC3339)
	req := httptest.NewRequest("GET", "/api/v1/audit/logs?start_date="+start+"&end_date="+end, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page pageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.GreaterOrEqual(t, page.Total, int64(3))
	assert.Equal(t, 100, page.PageSize)
	for _, l := range page.Items {
		assert.False(t, l.Timestamp.Before(now.Add(-time.Hour)))
		assert.False(t, l.Timestamp.After(now.Add(time.Hour)))
	}
	for i := 1; i < len(page.Items); i++ {
		assert.False(t, page.Items[i].Timestamp.After(page.Items[i-1].Timestamp), "ordered newest first")
	}
}

func TestListLogsValidation(t *testing.T) {
	router, _ := setupHandlers(t, allowAll)

	for _, q := range []string{"limit=1001", "limit=0", "action=EXPLODE", "user_id=abc", "start_date=nope", "success=maybe",
		"start_date=2026-02-01&end_date=2026-01-01"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/audit/logs?"+q, nil))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/audit/logs?action=bulk_export&limit=1000", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetLog(t *testing.T) {
	router, store := setupHandlers(t, allowAll)
	l := &Log{Action: ActionCreate, Resource: ResourceStudent, Success: true, Timestamp: time.Now()}
	require.NoError(t, store.Insert(context.Background(), l))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/audit/logs/"+strconv.FormatInt(l.ID, 10), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got Log
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, l.ID, got.ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/audit/logs/424242", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var env httputil.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, httputil.CodeAuditLogNotFound, env.Error.Code)
}

func TestExportLogs(t *testing.T) {
	router, store := setupHandlers(t, allowAll)
	require.NoError(t, store.Insert(context.Background(), &Log{Action: ActionCreate, Resource: ResourceStudent, Success: true, Timestamp: time.Now()}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/audit/logs/export?format=csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "CREATE,STUDENT")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/audit/logs/export?format=xml", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAuditRoutesAreGuarded(t *testing.T) {
	router, _ := setupHandlers(t, denyAll)

	for _, path := range []string{"/api/v1/audit/logs", "/api/v1/audit/logs/1", "/api/v1/audit/logs/export"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
}
