package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/linkpulse/internal/auth"
	"github.com/nerrad567/linkpulse/internal/billing"
	"github.com/nerrad567/linkpulse/internal/link"
)

// Error represents a structured error response.
type Error struct {
	Status  int               `json:"status"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  []auth.FieldError `json:"errors,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeMethodNotAllow     = "method_not_allowed"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeRateLimited        = "rate_limited"
)

// Client-facing messages.
const (
	msgUnauthorized       = "Unauthorized access"
	msgNoAccessToken      = "Unauthorized access: No access token"
	msgNoRefreshToken     = "Unauthorized access: No refresh token"
	msgInvalidRefresh     = "Unauthorized access: Invalid refresh token"
	msgForbidden          = "Forbidden: Insufficient Permission"
	msgInvalidCredentials = "Invalid credentials"
	msgEmailExists        = "User already exists with the given email"
	msgTooManyAttempts    = "Too many login attempts, try again later"
	msgInvalidGoogle      = "Invalid Google credential"
	msgInvalidResetCode   = "Invalid or expired reset code"
	msgValidation         = "Validation failed"
	msgInternal           = "Internal server error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeValidation writes a validation error listing every rejected field.
func writeValidation(w http.ResponseWriter, status int, verr *auth.ValidationError) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    ErrCodeValidation,
		Message: msgValidation,
		Errors:  verr.Fields,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps a domain error to its response. validationStatus
// is the status used for validation failures, 401 on the login and
// register endpoints and 400 elsewhere. Unrecognised errors are logged
// with the request context and reported as 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, validationStatus int) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidation(w, validationStatus, verr)

	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, msgInvalidCredentials)
	case errors.Is(err, auth.ErrEmailExists):
		writeError(w, http.StatusUnauthorized, ErrCodeConflict, msgEmailExists)
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, msgTooManyAttempts)
	case errors.Is(err, auth.ErrInvalidGoogleCredential):
		writeUnauthorized(w, msgInvalidGoogle)
	case errors.Is(err, auth.ErrGoogleSignInNotAvailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "Google sign-in is not available")
	case errors.Is(err, auth.ErrInvalidResetCode):
		writeBadRequest(w, msgInvalidResetCode)
	case errors.Is(err, auth.ErrUnauthenticated):
		writeUnauthorized(w, msgUnauthorized)
	case errors.Is(err, auth.ErrForbidden):
		writeForbidden(w, msgForbidden)
	case errors.Is(err, auth.ErrNotManaged):
		writeForbidden(w, "User is not managed by you")
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "User not found")

	case errors.Is(err, link.ErrLinkNotFound):
		writeNotFound(w, "Link ID does not exist")
	case errors.Is(err, link.ErrForbidden):
		writeForbidden(w, "Unauthorized access to this link")
	case errors.Is(err, link.ErrInsufficientCredit):
		writeBadRequest(w, "Insufficient credit balance or no active subscription")
	case errors.Is(err, link.ErrAnalyticsLocked):
		writeForbidden(w, "Insufficient credit balance or no active subscription to view analytics")

	case errors.Is(err, billing.ErrInvalidSignature):
		writeBadRequest(w, "Payment verification failed")
	case errors.Is(err, billing.ErrInvalidPack):
		writeBadRequest(w, "Invalid credit value")
	case errors.Is(err, billing.ErrPaymentProcessed):
		writeError(w, http.StatusConflict, ErrCodeConflict, "Payment already processed")
	case errors.Is(err, billing.ErrMalformedWebhook), errors.Is(err, billing.ErrMissingUserID):
		writeBadRequest(w, err.Error())
	case errors.Is(err, billing.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "Payments are not configured")

	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w, msgInternal)
	}
}
