package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sms/pkg/contextkeys"
	"github.com/platinummonkey/sms/pkg/httputil"
	"github.com/platinummonkey/sms/pkg/observability"
)

// Recovery turns handler panics into a 500 envelope. It sits outermost so
// panics raised by any other middleware are caught too.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := httputil.NewStatusRecorder(w)
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			observability.FromContext(r.Context()).WithFields(logrus.Fields{
				"panic":  p,
				"stack":  string(debug.Stack()),
				"method": r.Method,
				"path":   r.URL.Path,
			}).Error("PANIC recovered")
			if rec.WroteHeader() {
				// too late for an error body
				return
			}
			// the request ID middleware runs inside this one, so recover
			// the ID from the response headers
			ctx := r.Context()
			if id := w.Header().Get(RequestIDHeader); id != "" && contextkeys.GetRequestID(ctx) == "" {
				ctx = contextkeys.WithRequestID(ctx, id)
			}
			httputil.WriteError(rec, r.WithContext(ctx), fmt.Errorf("panic: %v", p))
		}()
		next.ServeHTTP(rec, r)
	})
}
