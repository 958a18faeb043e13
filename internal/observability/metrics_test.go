package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestJobMetricsShareTheRegistry(t *testing.T) {
	metrics := NewMetrics()
	_ = metrics.Jobs().Track("lease_sweep").End(nil)
	_ = metrics.Jobs().Track("notification_sweep").End(errors.New("db down"))
	metrics.Jobs().AddLeasesExpired(2)
	metrics.Jobs().AddNotification("CONTRATO_VENCIMENTO")

	body := scrape(t, metrics)
	require.Contains(t, body, `odyssey_jobs_total{job="lease_sweep",status="success"} 1`)
	require.Contains(t, body, `odyssey_jobs_failures_total{job="notification_sweep"} 1`)
	require.Contains(t, body, "odyssey_leases_expired_total 2")
	require.Contains(t, body, `odyssey_notifications_sent_total{kind="CONTRATO_VENCIMENTO"} 1`)
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	metrics := NewMetrics()
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Post("/ops/sweeps/{kind}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ops/sweeps/leases", nil))
	require.Equal(t, http.StatusConflict, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `odyssey_http_requests_total{code="409",route="/ops/sweeps/{kind}"} 1`)
	require.Contains(t, body, `odyssey_http_request_duration_seconds_bucket{route="/ops/sweeps/{kind}"`)
}

func TestNilMetricsAreInert(t *testing.T) {
	var metrics *Metrics
	require.Nil(t, metrics.Jobs())

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
