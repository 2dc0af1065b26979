package httputil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes of the taxonomy. The domain layer uses these; the generic HTTP
// layer uses HTTPCode, CodeValidationError and CodeInternalServerError.
const (
	CodeInternal           = "ERR_INTERNAL"
	CodeValidation         = "ERR_VALIDATION"
	CodeBadRequest         = "ERR_BAD_REQUEST"
	CodeRateLimited        = "ERR_RATE_LIMITED"
	CodeCSRFFailed         = "ERR_CSRF_FAILED"
	CodeUnauthorized       = "AUTH_UNAUTHORIZED"
	CodeForbidden          = "AUTH_FORBIDDEN"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeInactiveUser       = "AUTH_INACTIVE_USER"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeUserConflict       = "USER_CONFLICT"
	CodeRoleNotFound       = "ROLE_NOT_FOUND"
	CodePermissionNotFound = "PERMISSION_NOT_FOUND"
	CodeStudentNotFound    = "STUDENT_NOT_FOUND"
	CodeStudentConflict    = "STUDENT_CONFLICT"
	CodeCourseNotFound     = "COURSE_NOT_FOUND"
	CodeAuditLogNotFound   = "AUDIT_LOG_NOT_FOUND"

	CodeValidationError     = "VALIDATION_ERROR"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// errorIDs gives every taxonomy code a stable numeric identifier for logs
var errorIDs = map[string]string{
	CodeInternal:           "E1000",
	CodeValidation:         "E1001",
	CodeBadRequest:         "E1002",
	CodeRateLimited:        "E1003",
	CodeCSRFFailed:         "E1004",
	CodeUnauthorized:       "E2000",
	CodeForbidden:          "E2001",
	CodeInvalidCredentials: "E2002",
	CodeAccountLocked:      "E2003",
	CodeInvalidToken:       "E2004",
	CodeInactiveUser:       "E2005",
	CodeUserNotFound:       "E3000",
	CodeUserConflict:       "E3001",
	CodeRoleNotFound:       "E3100",
	CodePermissionNotFound: "E3101",
	CodeStudentNotFound:    "E4000",
	CodeStudentConflict:    "E4001",
	CodeCourseNotFound:     "E4100",
	CodeAuditLogNotFound:   "E5000",
}

// ErrorID returns the stable identifier of a taxonomy code, or "" for codes
// outside the taxonomy.
func ErrorID(code string) string {
	return errorIDs[code]
}

// HTTPCode is the generic code for a bare HTTP status
func HTTPCode(status int) string {
	return fmt.Sprintf("HTTP_%d", status)
}

// APIError is an error with everything needed to render it
type APIError struct {
	Status     int
	Code       string
	MessageKey string
	Details    map[string]interface{}
	Headers    map[string]string
	Err        error
}

// NewError creates an APIError
func NewError(status int, code, messageKey string) *APIError {
	return &APIError{Status: status, Code: code, MessageKey: messageKey}
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) clone() *APIError {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	if e.Headers != nil {
		c.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// WithDetail returns a copy carrying an extra detail field
func (e *APIError) WithDetail(key string, value interface{}) *APIError {
	c := e.clone()
	if c.Details == nil {
		c.Details = make(map[string]interface{})
	}
	c.Details[key] = value
	return c
}

// WithHeader returns a copy that sets a response header when rendered
func (e *APIError) WithHeader(key, value string) *APIError {
	c := e.clone()
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	c.Headers[key] = value
	return c
}

// Wrap returns a copy that records err as the cause
func (e *APIError) Wrap(err error) *APIError {
	c := e.clone()
	c.Err = err
	return c
}

// Is matches APIErrors by code so sentinels work with errors.Is
func (e *APIError) Is(target error) bool {
	var t *APIError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Common errors
var (
	ErrInternal         = NewError(http.StatusInternalServerError, CodeInternal, "errors.internal")
	ErrBadRequest       = NewError(http.StatusBadRequest, CodeBadRequest, "errors.bad_request")
	ErrValidation       = NewError(http.StatusBadRequest, CodeValidation, "errors.validation")
	ErrUnauthorized     = NewError(http.StatusUnauthorized, CodeUnauthorized, "errors.unauthorized").WithHeader("WWW-Authenticate", "Bearer")
	ErrForbidden        = NewError(http.StatusForbidden, CodeForbidden, "errors.forbidden")
	ErrInvalidToken     = NewError(http.StatusUnauthorized, CodeInvalidToken, "errors.invalid_token").WithHeader("WWW-Authenticate", "Bearer")
	ErrRateLimited      = NewError(http.StatusTooManyRequests, CodeRateLimited, "errors.rate_limited")
	ErrCSRFFailed       = NewError(http.StatusForbidden, CodeCSRFFailed, "errors.csrf_failed")
	ErrNotFound         = NewError(http.StatusNotFound, HTTPCode(http.StatusNotFound), "errors.not_found")
	ErrMethodNotAllowed = NewError(http.StatusMethodNotAllowed, HTTPCode(http.StatusMethodNotAllowed), "errors.method_not_allowed")
	ErrHostNotAllowed   = NewError(http.StatusBadRequest, HTTPCode(http.StatusBadRequest), "errors.host_not_allowed")
)

// NotFound builds a resource specific 404, e.g. NotFound("STUDENT_NOT_FOUND", "errors.student_not_found")
func NotFound(code, messageKey string) *APIError {
	return NewError(http.StatusNotFound, code, messageKey)
}

// Conflict builds a resource specific 409
func Conflict(code, messageKey string) *APIError {
	return NewError(http.StatusConflict, code, messageKey)
}

// FieldError describes one invalid input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Tag     string `json:"type,omitempty"`
}

// ValidationError is a 422 carrying per-field problems
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
}

// InvalidField returns a ValidationError for a single field
func InvalidField(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}
