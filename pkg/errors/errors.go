package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrRateLimited    = errors.New("rate limited")

	// Session errors surfaced to callers of explicit user actions.
	ErrAuth         = errors.New("authentication failed")
	ErrProfileFetch = errors.New("profile fetch failed")
	ErrSignup       = errors.New("signup rejected")
)

// AppError represents a structured application error with HTTP status mapping.
// Fields carries a structured payload, typically the parsed error body returned
// by the backend, keyed by field name.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil && !isSentinel(e.Err) {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func isSentinel(err error) bool {
	switch err {
	case ErrNotFound, ErrInvalidInput, ErrUnauthorized, ErrForbidden, ErrInternal,
		ErrServiceUnavail, ErrRateLimited, ErrAuth, ErrProfileFetch, ErrSignup:
		return true
	}
	return false
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// InvalidFields creates a 400 error carrying per-field messages.
func InvalidFields(fields map[string]string) *AppError {
	f := make(map[string]any, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: "validation failed",
		Fields:  f,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// AuthFailed creates an error for a rejected credential exchange. The backend
// status is preserved and the parsed error body is carried in Fields.
func AuthFailed(status int, fields map[string]any) *AppError {
	if status < 400 {
		status = http.StatusUnauthorized
	}
	return &AppError{
		Code:    "AUTH_FAILED",
		Message: MessageFromFields(fields, http.StatusText(status)),
		Fields:  fields,
		Status:  status,
		Err:     ErrAuth,
	}
}

// ProfileFetchFailed creates an error for a login whose identity lookup failed.
func ProfileFetchFailed(err error) *AppError {
	wrapped := ErrProfileFetch
	if err != nil {
		wrapped = fmt.Errorf("%w: %w", ErrProfileFetch, err)
	}
	return &AppError{
		Code:    "PROFILE_FETCH_FAILED",
		Message: "failed to fetch user profile",
		Status:  http.StatusBadGateway,
		Err:     wrapped,
	}
}

// SignupRejected creates an error for a registration the backend refused.
func SignupRejected(status int, fields map[string]any) *AppError {
	if status < 400 {
		status = http.StatusBadRequest
	}
	return &AppError{
		Code:    "SIGNUP_REJECTED",
		Message: MessageFromFields(fields, "registration failed"),
		Fields:  fields,
		Status:  status,
		Err:     ErrSignup,
	}
}

// MessageFromFields picks a human readable message out of a backend error
// payload. It prefers "detail", then "error", then "non_field_errors", then the
// first field in key order. Field values may be strings or lists of strings.
func MessageFromFields(fields map[string]any, fallback string) string {
	for _, key := range []string{"detail", "error", "non_field_errors"} {
		if msg := firstString(fields[key]); msg != "" {
			return msg
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if msg := firstString(fields[k]); msg != "" {
			return k + ": " + msg
		}
	}
	return fallback
}

func firstString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		for _, item := range val {
			if s := firstString(item); s != "" {
				return s
			}
		}
	case []string:
		for _, s := range val {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrSignup):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrProfileFetch):
		return http.StatusBadGateway
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
