package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal   *prometheus.CounterVec
	ACLResolutionsTotal   *prometheus.CounterVec
	ACLCacheHitsTotal     prometheus.Counter
	ACLCacheMissesTotal   prometheus.Counter
	ACLInvalidationsTotal *prometheus.CounterVec

	// Token metrics
	AuthenticationsTotal *prometheus.CounterVec
	TokensIssuedTotal    *prometheus.CounterVec
	TokenRefreshesTotal  *prometheus.CounterVec
	SessionsRevokedTotal prometheus.Counter

	// Hierarchy metrics
	HierarchyMutationsTotal      *prometheus.CounterVec
	HierarchyNodesMovedTotal     prometheus.Counter
	HierarchyIntegrityViolations prometheus.Gauge

	// Audit metrics
	AuditRecordsTotal       *prometheus.CounterVec
	AuditWriteFailuresTotal prometheus.Counter

	// Store metrics
	StoreErrorsTotal       *prometheus.CounterVec
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_authz_decisions_total",
				Help: "Capability checks by outcome",
			},
			[]string{"result"},
		),
		ACLResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_acl_resolutions_total",
				Help: "ACL resolutions by resulting scope",
			},
			[]string{"scope"},
		),
		ACLCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_acl_cache_hits_total",
				Help: "ACL cache hits",
			},
		),
		ACLCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_acl_cache_misses_total",
				Help: "ACL cache misses",
			},
		),
		ACLInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_acl_invalidations_total",
				Help: "Cached ACL entries invalidated, by trigger",
			},
			[]string{"trigger"},
		),

		AuthenticationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_authentications_total",
				Help: "Credential checks by outcome",
			},
			[]string{"result"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tokens_issued_total",
				Help: "Tokens issued by kind",
			},
			[]string{"kind"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_token_refreshes_total",
				Help: "Refresh attempts by outcome",
			},
			[]string{"result"},
		),
		SessionsRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_sessions_revoked_total",
				Help: "Sessions revoked",
			},
		),

		HierarchyMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_hierarchy_mutations_total",
				Help: "Organization mutations by operation and outcome",
			},
			[]string{"operation", "result"},
		),
		HierarchyNodesMovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_hierarchy_nodes_moved_total",
				Help: "Organizations whose path was recomputed by a move",
			},
		),
		HierarchyIntegrityViolations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_hierarchy_integrity_violations",
				Help: "Organizations whose depth or path disagree with their parent at the last check",
			},
		),

		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_audit_records_total",
				Help: "Audit records written by module",
			},
			[]string{"module"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_write_failures_total",
				Help: "Audit records that could not be persisted",
			},
		),

		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_store_errors_total",
				Help: "Store errors by backend and kind",
			},
			[]string{"backend", "kind"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.ACLResolutionsTotal,
		m.ACLCacheHitsTotal,
		m.ACLCacheMissesTotal,
		m.ACLInvalidationsTotal,
		m.AuthenticationsTotal,
		m.TokensIssuedTotal,
		m.TokenRefreshesTotal,
		m.SessionsRevokedTotal,
		m.HierarchyMutationsTotal,
		m.HierarchyNodesMovedTotal,
		m.HierarchyIntegrityViolations,
		m.AuditRecordsTotal,
		m.AuditWriteFailuresTotal,
		m.StoreErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// NewNopMetrics returns metrics registered on a private registry, for tests and
// components constructed without a metrics sink.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordDBStats copies pool statistics into the connection gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Routes are labelled with the mux path template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
