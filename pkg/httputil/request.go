package httputil

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, InvalidField(key, "missing path parameter")
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, InvalidField(key, "must be an integer")
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes error on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteError(w, r, err)
		return 0, false
	}
	return val, true
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, InvalidField(key, "must be an integer")
	}
	return val, nil
}

// ParseQueryOptionalInt64 returns nil when the parameter is absent
func ParseQueryOptionalInt64(r *http.Request, key string) (*int64, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, InvalidField(key, "must be an integer")
	}
	return &val, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := strings.TrimSpace(r.URL.Query().Get(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// ParseQueryOptionalBool returns nil when the parameter is absent
func ParseQueryOptionalBool(r *http.Request, key string) (*bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return nil, InvalidField(key, "must be a boolean")
	}
	return &val, nil
}

// timeLayouts are accepted for date and datetime query parameters
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseQueryTime parses an ISO 8601 date or datetime. Values without a
// zone are taken as UTC.
func ParseQueryTime(r *http.Request, key string) (*time.Time, error) {
	str := strings.TrimSpace(r.URL.Query().Get(key))
	if str == "" {
		return nil, nil
	}
	// a literal "+" in a query string decodes to a space
	str = strings.Replace(str, " ", "+", 1)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, InvalidField(key, fmt.Sprintf("invalid datetime %q", str))
}
