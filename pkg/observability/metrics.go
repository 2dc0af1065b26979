package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry prometheus.Gatherer

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Security metrics
	LoginAttemptsTotal *prometheus.CounterVec
	AccountLockouts    prometheus.Counter
	CSRFRejections     prometheus.Counter
	PermissionDenials  *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal *prometheus.CounterVec

	// Scheduler metrics
	SchedulerRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sms_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DBQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sms_db_query_duration_seconds",
				Help:    "Database statement duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),
		DBQueryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_db_query_errors_total",
				Help: "Database statements that returned an error",
			},
			[]string{"kind"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_auth_login_attempts_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		AccountLockouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sms_auth_account_lockouts_total",
				Help: "Number of times an account entered lockout",
			},
		),
		CSRFRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sms_csrf_rejections_total",
				Help: "Requests rejected by CSRF validation",
			},
		),
		PermissionDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_rbac_denials_total",
				Help: "Permission checks that failed",
			},
			[]string{"permission"},
		),
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_audit_writes_total",
				Help: "Audit log writes by result",
			},
			[]string{"result"},
		),
		SchedulerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_scheduler_runs_total",
				Help: "Maintenance job runs by job and result",
			},
			[]string{"job", "result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBQueryDuration,
		m.DBQueryErrors,
		m.LoginAttemptsTotal,
		m.AccountLockouts,
		m.CSRFRejections,
		m.PermissionDenials,
		m.AuditWritesTotal,
		m.SchedulerRunsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the /metrics handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultLocked  = "locked"
)

// The helpers below are nil-safe so components can run without metrics.

// ObserveLogin counts a login attempt
func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(result).Inc()
	if result == ResultLocked {
		m.AccountLockouts.Inc()
	}
}

// ObserveDenial counts a failed permission check
func (m *Metrics) ObserveDenial(permission string) {
	if m == nil {
		return
	}
	m.PermissionDenials.WithLabelValues(permission).Inc()
}

// ObserveCSRFRejection counts a CSRF failure
func (m *Metrics) ObserveCSRFRejection() {
	if m == nil {
		return
	}
	m.CSRFRejections.Inc()
}

// ObserveAuditWrite counts an audit write
func (m *Metrics) ObserveAuditWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.AuditWritesTotal.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.AuditWritesTotal.WithLabelValues(ResultSuccess).Inc()
}

// ObserveJob counts a scheduler job run
func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.SchedulerRunsTotal.WithLabelValues(job, result).Inc()
}

// ObserveHTTP records a served request. route is the matched route
// template, never the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
