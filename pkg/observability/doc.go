// Package observability provides structured logging, Prometheus metrics,
// query profiling, health checks and OpenTelemetry tracing.
//
// # Structured Logging
//
// Loggers are logrus loggers. Request-scoped entries carry the request ID:
//
//	logger := observability.NewLogger(logrus.InfoLevel, true, os.Stdout)
//	observability.FromContext(ctx).WithError(err).Warn("audit write failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/students", "200").Inc()
//
// # Query Profiler
//
// QueryProfiler implements storage.QueryHook. Once registered on the
// database handle it aggregates per-statement-kind counts and durations
// and feeds the query duration histogram.
//
// # Health Checks
//
//	/health        readiness (database, redis, migration state)
//	/health/live   liveness
//	/health/ready  readiness
package observability
