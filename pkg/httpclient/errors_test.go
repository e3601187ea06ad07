package httpclient

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	apperrors "github.com/Yoseph-M/Soultalk-sub000/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeResponse(statusCode int, contentType, body string) *http.Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: statusCode,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestIsJSON(t *testing.T) {
	assert.True(t, IsJSON(makeResponse(400, "application/json", "")))
	assert.True(t, IsJSON(makeResponse(400, "application/json; charset=utf-8", "")))
	assert.True(t, IsJSON(makeResponse(400, "Application/JSON", "")))
	assert.False(t, IsJSON(makeResponse(500, "text/html", "")))
	assert.False(t, IsJSON(makeResponse(500, "", "")))
}

func TestDecodeErrorBody_JSONObject(t *testing.T) {
	resp := makeResponse(http.StatusBadRequest, "application/json",
		`{"email":["This field must be unique."],"detail":"bad"}`)

	fields, ok := DecodeErrorBody(resp)
	require.True(t, ok)
	assert.Equal(t, "bad", fields["detail"])
	assert.Equal(t, []any{"This field must be unique."}, fields["email"])
}

func TestDecodeErrorBody_HTML(t *testing.T) {
	resp := makeResponse(http.StatusInternalServerError, "text/html", `<h1>Server Error (500)</h1>`)
	fields, ok := DecodeErrorBody(resp)
	assert.False(t, ok)
	assert.Nil(t, fields)
}

func TestDecodeErrorBody_MalformedJSON(t *testing.T) {
	resp := makeResponse(http.StatusBadRequest, "application/json", `{"detail":`)
	_, ok := DecodeErrorBody(resp)
	assert.False(t, ok)
}

func TestDecodeErrorBody_JSONArrayRejected(t *testing.T) {
	resp := makeResponse(http.StatusBadRequest, "application/json", `["nope"]`)
	_, ok := DecodeErrorBody(resp)
	assert.False(t, ok)
}

func TestParseResponseError_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		sentinel error
	}{
		{"not found", http.StatusNotFound, "NOT_FOUND", apperrors.ErrNotFound},
		{"bad request", http.StatusBadRequest, "INVALID_INPUT", apperrors.ErrInvalidInput},
		{"unauthorized", http.StatusUnauthorized, "UNAUTHORIZED", apperrors.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, "FORBIDDEN", apperrors.ErrForbidden},
		{"unavailable", http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", apperrors.ErrServiceUnavail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := makeResponse(tt.status, "application/json", `{"detail":"nope"}`)
			err := ParseResponseError(resp, "auth")

			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.Status)
			assert.Equal(t, "auth: nope", appErr.Message)
			assert.Equal(t, "nope", appErr.Fields["detail"])
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestParseResponseError_OtherClientError(t *testing.T) {
	resp := makeResponse(http.StatusTeapot, "application/json", `{"error":"short and stout"}`)
	err := ParseResponseError(resp, "auth")

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "DOWNSTREAM_ERROR", appErr.Code)
	assert.Equal(t, http.StatusTeapot, appErr.Status)
	assert.Equal(t, "auth: short and stout", appErr.Message)
}

func TestParseResponseError_ServerErrorJSON(t *testing.T) {
	resp := makeResponse(http.StatusInternalServerError, "application/json", `{"detail":"db down"}`)
	err := ParseResponseError(resp, "auth")

	require.Error(t, err)
	var appErr *apperrors.AppError
	assert.False(t, errors.As(err, &appErr))
	assert.Contains(t, err.Error(), "auth server error (500)")
	assert.Contains(t, err.Error(), "db down")
}

func TestParseResponseError_NonJSONBody(t *testing.T) {
	resp := makeResponse(http.StatusBadGateway, "text/html", `<html>bad gateway</html>`)
	err := ParseResponseError(resp, "auth")

	require.Error(t, err)
	assert.Equal(t, "auth returned status 502", err.Error())
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(400))
	assert.True(t, IsClientError(499))
	assert.False(t, IsClientError(399))
	assert.False(t, IsClientError(500))
	assert.False(t, IsClientError(200))
}
