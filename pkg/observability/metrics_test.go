package observability

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}

	metrics.AuthzDecisionsTotal.WithLabelValues("allow").Inc()
	metrics.AuditWriteFailuresTotal.Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("Expected registered metric families")
	}

	if got := testutil.ToFloat64(metrics.AuditWriteFailuresTotal); got != 1 {
		t.Errorf("Expected 1 audit failure, got %v", got)
	}
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	NewMetrics(registry)
}

func TestRecordDBStats(t *testing.T) {
	metrics := NewNopMetrics()
	metrics.RecordDBStats(sql.DBStats{InUse: 3, Idle: 2, WaitCount: 7})

	if got := testutil.ToFloat64(metrics.DBConnectionsActive); got != 3 {
		t.Errorf("Expected 3 active, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.DBConnectionsIdle); got != 2 {
		t.Errorf("Expected 2 idle, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.DBConnectionsWaitCount); got != 7 {
		t.Errorf("Expected 7 waits, got %v", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	t.Run("labels with route template", func(t *testing.T) {
		metrics := NewNopMetrics()

		router := mux.NewRouter()
		router.Use(HTTPMetricsMiddleware(metrics))
		router.HandleFunc("/v1/orgs/{code}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}).Methods(http.MethodGet)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orgs/ORG-A", nil))

		expected := `
# HELP warden_http_requests_total Total number of HTTP requests
# TYPE warden_http_requests_total counter
warden_http_requests_total{method="GET",route="/v1/orgs/{code}",status="404"} 1
`
		if err := testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected counter value: %v", err)
		}
		if count := testutil.CollectAndCount(metrics.HTTPRequestDuration); count != 1 {
			t.Errorf("Expected 1 duration metric, got %d", count)
		}
	})

	t.Run("falls back to raw path without mux", func(t *testing.T) {
		metrics := NewNopMetrics()
		handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))

		if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/plain", "200")); got != 1 {
			t.Errorf("Expected 1 request, got %v", got)
		}
	})
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.SessionsRevokedTotal.Inc()

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "warden_sessions_revoked_total 1") {
		t.Errorf("Expected revoked sessions counter in output, got:\n%s", body)
	}
}
