// Package httputil provides the response envelope, the error taxonomy and
// request parsing helpers shared by every handler.
//
// # Envelope
//
// Every JSON response has the shape
//
//	{"success": bool, "data": ..., "error": {...} | null,
//	 "meta": {"request_id": "...", "timestamp": "...", "version": "..."}}
//
// Handlers write their plain payload with WriteJSON; the envelope middleware
// wraps it. Errors are written already enveloped by WriteError, which the
// middleware passes through untouched.
//
// # Errors
//
// Domain code returns *APIError values (or wraps package sentinels into
// them). WriteError renders:
//
//   - *APIError: its status, code, localized message and details
//   - validator.ValidationErrors and malformed bodies: 422 VALIDATION_ERROR
//     with details.errors listing each field
//   - anything else: 500 INTERNAL_SERVER_ERROR with a generic message; the
//     cause is logged, never returned
//
// # Request parsing
//
//	var req CreateStudentRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return // Error response already written
//	}
//
//	params, err := httputil.ParsePageParams(r, 100, 1000)
//	id, err := httputil.ParsePathInt64(r, "id")
package httputil
