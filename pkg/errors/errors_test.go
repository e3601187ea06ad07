package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Sentinel error identity ---

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrInvalidInput, ErrUnauthorized, ErrForbidden, ErrInternal,
		ErrServiceUnavail, ErrRateLimited, ErrAuth, ErrProfileFetch, ErrSignup,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

// --- AppError behavior ---

func TestAppError_ErrorString_WithWrappedError(t *testing.T) {
	inner := fmt.Errorf("dial tcp: connection refused")
	appErr := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: inner}
	assert.Equal(t, "INTERNAL_ERROR: something broke: dial tcp: connection refused", appErr.Error())
}

func TestAppError_ErrorString_SentinelNotRepeated(t *testing.T) {
	appErr := AuthFailed(http.StatusUnauthorized, map[string]any{"detail": "Invalid credentials"})
	assert.Equal(t, "AUTH_FAILED: Invalid credentials", appErr.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	appErr := &AppError{Code: "NOT_FOUND", Message: "nope", Err: ErrNotFound}
	assert.True(t, errors.Is(appErr, ErrNotFound))
}

func TestAppError_Unwrap_Nil(t *testing.T) {
	appErr := &AppError{Code: "TEST", Message: "test"}
	assert.Nil(t, appErr.Unwrap())
}

// --- Constructor functions ---

func TestInvalidFields(t *testing.T) {
	err := InvalidFields(map[string]string{"email": "must be a valid email"})
	assert.Equal(t, "INVALID_INPUT", err.Code)
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.Equal(t, "must be a valid email", err.Fields["email"])
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAuthFailed(t *testing.T) {
	fields := map[string]any{"detail": "No active account found with the given credentials"}
	err := AuthFailed(http.StatusUnauthorized, fields)

	require.NotNil(t, err)
	assert.Equal(t, "AUTH_FAILED", err.Code)
	assert.Equal(t, http.StatusUnauthorized, err.Status)
	assert.Equal(t, fields, err.Fields)
	assert.Equal(t, "No active account found with the given credentials", err.Message)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthFailed_NonErrorStatusDefaultsTo401(t *testing.T) {
	err := AuthFailed(http.StatusOK, nil)
	assert.Equal(t, http.StatusUnauthorized, err.Status)
	assert.Equal(t, "Unauthorized", err.Message)
}

func TestProfileFetchFailed(t *testing.T) {
	cause := errors.New("status 500")
	err := ProfileFetchFailed(cause)

	assert.Equal(t, "PROFILE_FETCH_FAILED", err.Code)
	assert.Equal(t, http.StatusBadGateway, err.Status)
	assert.ErrorIs(t, err, ErrProfileFetch)
	assert.ErrorIs(t, err, cause)
}

func TestProfileFetchFailed_NilCause(t *testing.T) {
	err := ProfileFetchFailed(nil)
	assert.ErrorIs(t, err, ErrProfileFetch)
	assert.Equal(t, "PROFILE_FETCH_FAILED: failed to fetch user profile", err.Error())
}

func TestSignupRejected(t *testing.T) {
	fields := map[string]any{"email": []any{"This field must be unique."}}
	err := SignupRejected(http.StatusBadRequest, fields)

	assert.Equal(t, "SIGNUP_REJECTED", err.Code)
	assert.Equal(t, "email: This field must be unique.", err.Message)
	assert.ErrorIs(t, err, ErrSignup)
}

// --- MessageFromFields ---

func TestMessageFromFields(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{"detail wins", map[string]any{"detail": "Invalid credentials", "error": "x"}, "Invalid credentials"},
		{"error key", map[string]any{"error": "Account disabled"}, "Account disabled"},
		{"non field errors list", map[string]any{"non_field_errors": []any{"Bad pair"}}, "Bad pair"},
		{"first field in key order", map[string]any{"username": []any{"taken"}, "email": []any{"invalid"}}, "email: invalid"},
		{"string slice", map[string]any{"password": []string{"", "too short"}}, "password: too short"},
		{"non string values skipped", map[string]any{"code": 42}, "fallback"},
		{"nil map", nil, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MessageFromFields(tt.fields, "fallback"))
		})
	}
}

// --- HTTPStatus ---

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error status", AuthFailed(http.StatusForbidden, nil), http.StatusForbidden},
		{"wrapped app error", fmt.Errorf("login: %w", SignupRejected(http.StatusConflict, nil)), http.StatusConflict},
		{"not found sentinel", ErrNotFound, http.StatusNotFound},
		{"invalid input sentinel", ErrInvalidInput, http.StatusBadRequest},
		{"auth sentinel", ErrAuth, http.StatusUnauthorized},
		{"forbidden sentinel", ErrForbidden, http.StatusForbidden},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"profile fetch", ErrProfileFetch, http.StatusBadGateway},
		{"unavailable", ErrServiceUnavail, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
