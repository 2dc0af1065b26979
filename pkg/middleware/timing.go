package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/sms/pkg/contextkeys"
)

// ProcessTimeHeader reports how long the request took, in seconds
const ProcessTimeHeader = "X-Process-Time"

type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (tw *timingWriter) WriteHeader(code int) {
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.Header().Set(ProcessTimeHeader, fmt.Sprintf("%.4f", time.Since(tw.start).Seconds()))
	}
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timingWriter) Write(b []byte) (int, error) {
	if !tw.wroteHeader {
		tw.WriteHeader(http.StatusOK)
	}
	return tw.ResponseWriter.Write(b)
}

func (tw *timingWriter) Flush() {
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (tw *timingWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}

// Timing sets X-Process-Time, measured from the start time RequestID put in
// the context when there is one. The value is taken when the status line is
// written, which for buffered JSON responses is after the handler returns.
func Timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, ok := contextkeys.GetRequestStartTime(r.Context())
		if !ok {
			start = time.Now()
		}
		tw := &timingWriter{ResponseWriter: w, start: start}
		next.ServeHTTP(tw, r)
		if !tw.wroteHeader {
			tw.WriteHeader(http.StatusOK)
		}
	})
}
