package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func down(msg string) Checker {
	return func(context.Context) error { return fmt.Errorf("%s", msg) }
}

func ready(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLivenessHandler_AlwaysReturns200(t *testing.T) {
	h := NewHandler()
	h.Register("credstore", down("unreachable"))

	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUp, resp.Status)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Empty(t, resp.Checks)
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *Handler)
		wantCode   int
		wantStatus Status
	}{
		{
			name:       "no checkers",
			setup:      func(h *Handler) {},
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
		{
			name: "all healthy",
			setup: func(h *Handler) {
				h.Register("credstore", up)
				h.RegisterNonCritical("kafka", up)
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
		{
			name: "critical down",
			setup: func(h *Handler) {
				h.RegisterCritical("credstore", down("connection refused"))
				h.RegisterNonCritical("kafka", up)
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDown,
		},
		{
			name: "non-critical down is degraded",
			setup: func(h *Handler) {
				h.RegisterCritical("credstore", up)
				h.RegisterNonCritical("kafka", down("broker unreachable"))
				h.RegisterNonCritical("auth-backend", down("circuit open"))
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name: "critical wins over degraded",
			setup: func(h *Handler) {
				h.RegisterCritical("credstore", down("db down"))
				h.RegisterNonCritical("kafka", down("kafka down"))
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			tt.setup(h)

			code, resp := ready(t, h)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}
}

func TestReadinessHandler_CheckDetails(t *testing.T) {
	h := NewHandler()
	h.Register("credstore", up)
	h.RegisterNonCritical("kafka", down("broker unreachable"))

	_, resp := ready(t, h)

	assert.Equal(t, CheckResult{Status: StatusUp, Critical: true}, resp.Checks["credstore"])
	assert.Equal(t, CheckResult{Status: StatusDown, Critical: false, Error: "broker unreachable"}, resp.Checks["kafka"])
}

func TestRegister_Overwrite(t *testing.T) {
	h := NewHandler()
	h.Register("credstore", down("fail"))
	h.Register("credstore", up)

	code, resp := ready(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Checks["credstore"].Status)
}

func TestReadinessHandler_ChecksRunConcurrently(t *testing.T) {
	h := NewHandler()
	slow := func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}
	h.Register("a", slow)
	h.Register("b", slow)
	h.Register("c", slow)

	start := time.Now()
	code, _ := ready(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReadinessHandler_CheckSeesDeadline(t *testing.T) {
	h := NewHandler()
	h.Register("credstore", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return fmt.Errorf("no deadline")
		}
		return nil
	})

	code, _ := ready(t, h)
	assert.Equal(t, http.StatusOK, code)
}
