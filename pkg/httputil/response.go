package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/sms/pkg/contextkeys"
	"github.com/platinummonkey/sms/pkg/i18n"
	"github.com/platinummonkey/sms/pkg/observability"
	"github.com/platinummonkey/sms/pkg/storage"
)

// Envelope is the uniform JSON response shape
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Error   *ErrorBody  `json:"error"`
	Meta    Meta        `json:"meta"`
}

// ErrorBody is the error member of an Envelope
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
	Path    *string     `json:"path"`
}

// Meta is attached to every envelope
type Meta struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// TimestampFormat is ISO 8601 in UTC with millisecond precision
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// NewMeta builds envelope metadata for the request
func NewMeta(r *http.Request) Meta {
	return Meta{
		RequestID: contextkeys.GetRequestID(r.Context()),
		Timestamp: time.Now().UTC().Format(TimestampFormat),
		Version:   contextkeys.GetAppVersion(r.Context()),
	}
}

// Language returns the response language for r
func Language(r *http.Request) string {
	if lang, ok := contextkeys.LookupLanguage(r.Context()); ok {
		return lang
	}
	return i18n.ResolveLanguage(r)
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError renders err as an error envelope
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := renderError(r, err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		for k, v := range apiErr.Headers {
			w.Header().Set(k, v)
		}
	}

	_ = WriteJSON(w, status, Envelope{
		Success: false,
		Data:    nil,
		Error:   body,
		Meta:    NewMeta(r),
	})
}

// WriteErrorStatus renders a bare HTTP status using the generic HTTP_<status> code
func WriteErrorStatus(w http.ResponseWriter, r *http.Request, status int) {
	WriteError(w, r, NewError(status, HTTPCode(status), StatusMessageKey(status)))
}

// StatusMessageKey returns the catalog key describing a bare HTTP status
func StatusMessageKey(status int) string {
	key := "errors.bad_request"
	switch status {
	case http.StatusNotFound:
		key = "errors.not_found"
	case http.StatusMethodNotAllowed:
		key = "errors.method_not_allowed"
	case http.StatusUnauthorized:
		key = "errors.unauthorized"
	case http.StatusForbidden:
		key = "errors.forbidden"
	case http.StatusTooManyRequests:
		key = "errors.rate_limited"
	case http.StatusConflict:
		key = "errors.conflict"
	}
	if status >= http.StatusInternalServerError {
		key = "errors.internal"
	}
	return key
}

func renderError(r *http.Request, err error) (int, *ErrorBody) {
	status, body := renderErrorBody(r, err)
	if id := ErrorID(body.Code); id != "" {
		body.Details = withErrorID(body.Details, id)
	}
	return status, body
}

// withErrorID returns details with error_id set. Map details are copied so
// shared sentinel errors are never mutated.
func withErrorID(details interface{}, id string) interface{} {
	switch d := details.(type) {
	case nil:
		return map[string]interface{}{"error_id": id}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(d)+1)
		for k, v := range d {
			out[k] = v
		}
		out["error_id"] = id
		return out
	default:
		return details
	}
}

func renderErrorBody(r *http.Request, err error) (int, *ErrorBody) {
	lang := Language(r)
	path := r.URL.Path

	var (
		apiErr  *APIError
		valErr  *ValidationError
		valErrs validator.ValidationErrors
	)

	switch {
	case errors.As(err, &apiErr):
		var details interface{}
		if len(apiErr.Details) > 0 {
			details = apiErr.Details
		}
		return apiErr.Status, &ErrorBody{
			Code:    apiErr.Code,
			Message: i18n.Message(apiErr.MessageKey, lang),
			Details: details,
			Path:    &path,
		}
	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity, validationBody(valErr.Errors, lang, path)
	case errors.As(err, &valErrs):
		return http.StatusUnprocessableEntity, validationBody(fieldErrors(valErrs), lang, path)
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, &ErrorBody{
			Code:    HTTPCode(http.StatusNotFound),
			Message: i18n.Message("errors.not_found", lang),
			Path:    &path,
		}
	default:
		return http.StatusInternalServerError, &ErrorBody{
			Code:    CodeInternalServerError,
			Message: i18n.Message("errors.internal", lang),
			Path:    &path,
		}
	}
}

func validationBody(errs []FieldError, lang, path string) *ErrorBody {
	if errs == nil {
		errs = []FieldError{}
	}
	return &ErrorBody{
		Code:    CodeValidationError,
		Message: i18n.Message("errors.validation", lang),
		Details: map[string]interface{}{"errors": errs},
		Path:    &path,
	}
}
