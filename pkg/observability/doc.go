// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and shutdown handling.
//
// # Structured Logging
//
// Logger wraps logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("org_code", code).Info("Organization created")
//
// Request-scoped loggers travel in the context. FromContext adds the
// request id and member id when present:
//
//	ctx = observability.WithRequestID(ctx, id)
//	observability.FromContext(ctx).WithError(err).Warn("Failed to resolve ACL")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.AuthzDecisionsTotal.WithLabelValues("denied").Inc()
//
// Components accept a nil *Metrics and fall back to NewNopMetrics.
// HTTPMetricsMiddleware labels requests by route template, so it must be
// installed with mux.Router.Use.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "warden",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// StartSpan and EndSpan wrap the hierarchy, resolver and token operations.
// JobMetrics records scheduled job runs through the OTel meter provider.
//
// # Health and Shutdown
//
// RegisterHealthRoutes serves /health, /health/live and /health/ready on the
// ops port. ShutdownManager drains HTTP servers and then runs hooks in
// reverse registration order.
package observability
