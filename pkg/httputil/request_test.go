package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathInt64(t *testing.T) {
	r := mux.SetURLVars(httptest.NewRequest("GET", "/students/42", nil), map[string]string{"id": "42"})
	id, err := ParsePathInt64(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	r = mux.SetURLVars(httptest.NewRequest("GET", "/students/abc", nil), map[string]string{"id": "abc"})
	_, err = ParsePathInt64(r, "id")
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "id", valErr.Errors[0].Field)

	rec := httptest.NewRecorder()
	_, ok := ParsePathInt64OrError(rec, r, "id")
	assert.False(t, ok)
	assert.Equal(t, 422, rec.Code)
}

func TestParseQueryHelpers(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=5&success=false&user_id=7&action=%20LOGIN%20", nil)

	limit, err := ParseQueryInt(r, "limit", 100)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	skip, err := ParseQueryInt(r, "skip", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, skip)

	success, err := ParseQueryOptionalBool(r, "success")
	require.NoError(t, err)
	require.NotNil(t, success)
	assert.False(t, *success)

	missing, err := ParseQueryOptionalBool(r, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	userID, err := ParseQueryOptionalInt64(r, "user_id")
	require.NoError(t, err)
	assert.Equal(t, int64(7), *userID)

	assert.Equal(t, "LOGIN", ParseQueryString(r, "action", ""))
	assert.Equal(t, "x", ParseQueryString(r, "resource", "x"))

	bad := httptest.NewRequest("GET", "/?limit=ten&success=maybe", nil)
	_, err = ParseQueryInt(bad, "limit", 1)
	assert.Error(t, err)
	_, err = ParseQueryOptionalBool(bad, "success")
	assert.Error(t, err)
}

func TestParseQueryTime(t *testing.T) {
	tests := []struct {
		query string
		want  time.Time
		err   bool
	}{
		{"start_date=2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"start_date=2026-03-01T10:30:00", time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), false},
		{"start_date=2026-03-01T10:30:00Z", time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), false},
		{"start_date=2026-03-01T12:30:00%2B02:00", time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), false},
		{"start_date=2026-03-01T12:30:00+02:00", time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), false},
		{"start_date=yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/?"+tt.query, nil)
			got, err := ParseQueryTime(r, "start_date")
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(*got), "got %v", got)
		})
	}

	got, err := ParseQueryTime(httptest.NewRequest("GET", "/", nil), "start_date")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParsePageParams(t *testing.T) {
	params, err := ParsePageParams(httptest.NewRequest("GET", "/", nil), 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, PageParams{Skip: 0, Limit: 100}, params)

	params, err = ParsePageParams(httptest.NewRequest("GET", "/?skip=20&limit=10", nil), 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, PageParams{Skip: 20, Limit: 10}, params)

	for _, q := range []string{"limit=0", "limit=1001", "skip=-1", "limit=x"} {
		_, err := ParsePageParams(httptest.NewRequest("GET", "/?"+q, nil), 100, 1000)
		assert.Error(t, err, q)
	}
}

func TestNewPage(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		params    PageParams
		wantPage  int
		wantPages int
		wantNext  bool
		wantPrev  bool
	}{
		{"empty", 0, PageParams{0, 10}, 1, 1, false, false},
		{"first of three", 25, PageParams{0, 10}, 1, 3, true, false},
		{"middle", 25, PageParams{10, 10}, 2, 3, true, true},
		{"last", 25, PageParams{20, 10}, 3, 3, false, true},
		{"exact multiple", 20, PageParams{0, 10}, 1, 2, true, false},
		{"unaligned skip", 25, PageParams{15, 10}, 2, 3, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPage([]int{}, tt.total, tt.params)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantPages, p.TotalPages)
			assert.Equal(t, tt.wantNext, p.HasNext)
			assert.Equal(t, tt.wantPrev, p.HasPrevious)
			assert.Equal(t, tt.params.Limit, p.PageSize)
		})
	}

	assert.Equal(t, []interface{}{}, NewPage(nil, 0, PageParams{0, 10}).Items)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(h http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("outer"), mw("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := NewStatusRecorder(rec)
	assert.False(t, sr.WroteHeader())
	_, _ = sr.Write([]byte("hello"))
	sr.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusOK, sr.Status)
	assert.Equal(t, 5, sr.Bytes)
	assert.True(t, sr.WroteHeader())
}
