package middleware

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"

	"github.com/platinummonkey/sms/pkg/contextkeys"
	"github.com/platinummonkey/sms/pkg/httputil"
	"github.com/platinummonkey/sms/pkg/i18n"
)

// envelopeWriter buffers JSON bodies so they can be wrapped once the
// handler is done. Anything else streams straight through.
type envelopeWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	passthrough bool
	buf         bytes.Buffer
}

func (ew *envelopeWriter) WriteHeader(code int) {
	if ew.wroteHeader {
		return
	}
	ew.wroteHeader = true
	ew.status = code
	ew.passthrough = !wrappable(ew.Header(), code)
	if ew.passthrough {
		ew.ResponseWriter.WriteHeader(code)
	}
}

func (ew *envelopeWriter) Write(b []byte) (int, error) {
	if !ew.wroteHeader {
		ew.WriteHeader(http.StatusOK)
	}
	if ew.passthrough {
		return ew.ResponseWriter.Write(b)
	}
	return ew.buf.Write(b)
}

func (ew *envelopeWriter) Flush() {
	if !ew.passthrough {
		return
	}
	if f, ok := ew.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (ew *envelopeWriter) Unwrap() http.ResponseWriter {
	return ew.ResponseWriter
}

// wrappable reports whether a response is a JSON document we own
func wrappable(h http.Header, status int) bool {
	if status == http.StatusNoContent || status == http.StatusNotModified || status < 200 {
		return false
	}
	if h.Get("Content-Disposition") != "" || h.Get("Content-Encoding") != "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/json" || (len(mediaType) > 5 && mediaType[len(mediaType)-5:] == "+json")
}

// Envelope wraps JSON responses in the standard envelope. Responses that
// already are envelopes pass through unchanged. It also fixes the response
// language and application version in the request context.
func Envelope(version string, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := contextkeys.WithLanguage(r.Context(), i18n.ResolveLanguage(r))
			ctx = contextkeys.WithAppVersion(ctx, version)
			r = r.WithContext(ctx)

			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ew := &envelopeWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ew, r)
			if !ew.wroteHeader || ew.passthrough {
				return
			}
			body := wrapBody(r, ew.status, ew.buf.Bytes())
			if w.Header().Get(RequestIDHeader) == "" {
				if id := contextkeys.GetRequestID(ctx); id != "" {
					w.Header().Set(RequestIDHeader, id)
				}
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(ew.status)
			_, _ = w.Write(body)
		})
	}
}

// wrapBody returns the enveloped form of a buffered JSON body
func wrapBody(r *http.Request, status int, body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return body
	}
	if isEnvelope(trimmed) {
		return body
	}

	env := httputil.Envelope{Meta: httputil.NewMeta(r)}
	if status < http.StatusBadRequest {
		env.Success = true
		env.Data = json.RawMessage(trimmed)
	} else {
		path := r.URL.Path
		env.Error = &httputil.ErrorBody{
			Code:    httputil.HTTPCode(status),
			Message: i18n.Message(httputil.StatusMessageKey(status), httputil.Language(r)),
			Details: json.RawMessage(trimmed),
			Path:    &path,
		}
	}
	out, err := json.Marshal(env)
	if err != nil {
		return body
	}
	return append(out, '\n')
}

func isEnvelope(body []byte) bool {
	if body[0] != '{' {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	_, hasSuccess := fields["success"]
	_, hasMeta := fields["meta"]
	return hasSuccess && hasMeta
}
