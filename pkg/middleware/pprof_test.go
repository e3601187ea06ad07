package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIPAllowlist(t *testing.T) {
	tests := []struct {
		name       string
		cidrs      []string
		remoteAddr string
		want       int
	}{
		{"loopback allowed", []string{"127.0.0.0/8"}, "127.0.0.1:5000", http.StatusOK},
		{"outside range", []string{"10.0.0.0/8"}, "192.168.1.1:5000", http.StatusForbidden},
		{"second cidr matches", []string{"10.0.0.0/8", "192.168.0.0/16"}, "192.168.7.9:5000", http.StatusOK},
		{"ipv6 loopback", []string{"::1/128"}, "[::1]:5000", http.StatusOK},
		{"ipv4-mapped ipv6", []string{"127.0.0.0/8"}, "[::ffff:127.0.0.1]:5000", http.StatusOK},
		{"invalid cidr skipped", []string{"not-a-cidr", "127.0.0.0/8"}, "127.0.0.1:5000", http.StatusOK},
		{"no port", []string{"127.0.0.0/8"}, "127.0.0.1", http.StatusOK},
		{"garbage remote addr", []string{"127.0.0.0/8"}, "garbage", http.StatusForbidden},
		{"empty allowlist", nil, "127.0.0.1:5000", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := IPAllowlist(tt.cidrs, discardLogger())(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestIPAllowlist_DeniedBody(t *testing.T) {
	handler := IPAllowlist([]string{"10.0.0.0/8"}, discardLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "203.0.113.4:443"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "FORBIDDEN", body.Error.Code)
}

func TestIPAllowlist_IgnoresForwardedFor(t *testing.T) {
	handler := IPAllowlist([]string{"127.0.0.0/8"}, discardLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "203.0.113.4:443"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRegisterPprof(t *testing.T) {
	r := chi.NewRouter()
	RegisterPprof(r, []string{"127.0.0.0/8"}, discardLogger())

	allowed := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	allowed.RemoteAddr = "127.0.0.1:5000"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, allowed)
	assert.Equal(t, http.StatusOK, rr.Code)

	denied := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	denied.RemoteAddr = "198.51.100.2:5000"
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, denied)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
