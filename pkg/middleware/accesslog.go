package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sms/pkg/httputil"
	"github.com/platinummonkey/sms/pkg/observability"
)

// AccessLog writes one structured line per request and records request
// metrics labelled by the matched route template. Unmatched requests are
// labelled "unmatched" to keep metric cardinality bounded.
func AccessLog(router *mux.Router, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := httputil.NewStatusRecorder(w)
			route := routeTemplate(router, r)

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			metrics.ObserveHTTP(r.Method, route, rec.Status, elapsed)

			entry := observability.FromContext(r.Context()).WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       route,
				"status":      rec.Status,
				"bytes":       rec.Bytes,
				"duration_ms": float64(elapsed.Microseconds()) / 1000,
			})
			switch {
			case rec.Status >= 500:
				entry.Error("request completed")
			case rec.Status >= 400:
				entry.Warn("request completed")
			default:
				entry.Info("request completed")
			}
		})
	}
}

func routeTemplate(router *mux.Router, r *http.Request) string {
	if router == nil {
		return "unmatched"
	}
	var match mux.RouteMatch
	if router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
		if prefix, err := match.Route.GetPathRegexp(); err == nil {
			return prefix
		}
	}
	return "unmatched"
}
