package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_CountsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics("metrics-route"))
	r.Get("/api/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/api/sessions/", "/api/journal/3/"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("metrics-route", http.MethodGet, "/api/*", "200"))
	assert.Equal(t, float64(2), got)
}

func TestPrometheusMetrics_RecordsErrorStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics("metrics-status"))
	r.Post("/session/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/session/login", nil))

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("metrics-status", http.MethodPost, "/session/login", "401"))
	assert.Equal(t, float64(1), got)
}

func TestPrometheusMetrics_ImplicitOKOnWrite(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics("metrics-write"))
	r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/session", nil))

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("metrics-write", http.MethodGet, "/session", "200"))
	assert.Equal(t, float64(1), got)
}

func TestPrometheusMetrics_WithoutChiRouter(t *testing.T) {
	handler := PrometheusMetrics("metrics-bare")(okHandler())

	assert.NotPanics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	})

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("metrics-bare", http.MethodGet, "unknown", "200"))
	assert.Equal(t, float64(1), got)
}

func TestPrometheusMetrics_InFlightReturnsToZero(t *testing.T) {
	var during float64
	handler := PrometheusMetrics("metrics-inflight")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(httpRequestsInFlight.WithLabelValues("metrics-inflight"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, float64(1), during)
	assert.Equal(t, float64(0), testutil.ToFloat64(httpRequestsInFlight.WithLabelValues("metrics-inflight")))
}

func TestStatusRecorder_UnwrapSupportsFlush(t *testing.T) {
	handler := PrometheusMetrics("metrics-flush")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("chunk"))
		assert.NoError(t, http.NewResponseController(w).Flush())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, rr.Flushed)
	assert.Equal(t, "chunk", rr.Body.String())
}

func TestPrometheusMetrics_ObservesDuration(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics("metrics-hist"))
	r.Post("/session/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/session/logout", nil))

	observer := httpRequestDuration.WithLabelValues("metrics-hist", http.MethodPost, "/session/logout", "204")
	metric, ok := observer.(prometheus.Metric)
	require.True(t, ok)

	var m dto.Metric
	require.NoError(t, metric.Write(&m))
	require.NotNil(t, m.GetHistogram())
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleSum(), 0.0)

	assert.Equal(t, float64(0), testutil.ToFloat64(httpRequestsInFlight.WithLabelValues("metrics-hist")))
}
