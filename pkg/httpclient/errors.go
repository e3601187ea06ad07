package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/Yoseph-M/Soultalk-sub000/pkg/errors"
)

const maxErrorBody = 1 << 20

// IsJSON reports whether the response declares a JSON body.
func IsJSON(resp *http.Response) bool {
	return strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/json")
}

// DecodeErrorBody reads a non-2xx response body and, when it is a JSON object,
// returns it as a field map. ok is false for non-JSON or malformed bodies. The
// body is fully consumed and closed.
func DecodeErrorBody(resp *http.Response) (fields map[string]any, ok bool) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || !IsJSON(resp) {
		return nil, false
	}
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// ParseResponseError translates a non-2xx backend response into an AppError.
// JSON bodies are kept as Fields and their message is derived from the usual
// "detail"/"error" keys. The body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	fields, ok := DecodeErrorBody(resp)
	if !ok {
		return fmt.Errorf("%s returned status %d", serviceName, resp.StatusCode)
	}

	msg := fmt.Sprintf("%s: %s", serviceName, apperrors.MessageFromFields(fields, http.StatusText(resp.StatusCode)))

	var appErr *apperrors.AppError
	switch {
	case resp.StatusCode == http.StatusNotFound:
		appErr = &apperrors.AppError{Code: "NOT_FOUND", Message: msg, Status: resp.StatusCode, Err: apperrors.ErrNotFound}
	case resp.StatusCode == http.StatusBadRequest:
		appErr = apperrors.InvalidInput(msg)
	case resp.StatusCode == http.StatusUnauthorized:
		appErr = apperrors.Unauthorized(msg)
	case resp.StatusCode == http.StatusForbidden:
		appErr = apperrors.Forbidden(msg)
	case resp.StatusCode == http.StatusServiceUnavailable:
		appErr = &apperrors.AppError{Code: "SERVICE_UNAVAILABLE", Message: msg, Status: resp.StatusCode, Err: apperrors.ErrServiceUnavail}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s server error (%d): %s", serviceName, resp.StatusCode, msg)
	default:
		appErr = &apperrors.AppError{Code: "DOWNSTREAM_ERROR", Message: msg, Status: resp.StatusCode}
	}
	appErr.Fields = fields
	return appErr
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
