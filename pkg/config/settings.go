package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Environment is the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ExecutionMode describes how the process is hosted
type ExecutionMode string

const (
	ModeNative ExecutionMode = "native"
	ModeDocker ExecutionMode = "docker"
)

// AuthMode is the global RBAC enforcement mode
type AuthMode string

const (
	AuthDisabled   AuthMode = "disabled"
	AuthPermissive AuthMode = "permissive"
	AuthStrict     AuthMode = "strict"
)

// Settings holds all application configuration. It is built once by Load
// and must be treated as read-only afterwards.
type Settings struct {
	Env           Environment
	ExecutionMode ExecutionMode
	AppVersion    string
	ProjectRoot   string

	// TestRun is true when the process runs under CI or a test runner.
	TestRun bool

	// EnvFile is the .env file that was read, if any
	EnvFile string

	Server        ServerSettings
	Database      DatabaseSettings
	Redis         RedisSettings
	Auth          AuthSettings
	DefaultAdmin  DefaultAdminSettings
	CORS          CORSSettings
	CSRF          CSRFSettings
	RateLimit     RateLimitSettings
	Exports       ExportSettings
	Audit         AuditSettings
	Monitoring    MonitoringSettings
	Observability ObservabilitySettings
	Frontend      FrontendSettings

	SemesterWeeks       int
	GZipMinimumSize     int
	TrustedHosts        []string
	// TrustedProxies are the peers allowed to set X-Forwarded-For and X-Real-IP.
	TrustedProxies      []*net.IPNet
	DisableStartupTasks bool
}

// ServerSettings holds HTTP server configuration
type ServerSettings struct {
	Host          string
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	ShutdownGrace time.Duration
}

// RedisSettings configures the optional shared cache
type RedisSettings struct {
	URL string
}

// AuthSettings holds authentication and lockout configuration
type AuthSettings struct {
	Enabled bool
	// Mode is the effective mode; it is AuthDisabled whenever Enabled is false.
	Mode       AuthMode
	ConfigMode AuthMode

	SecretKey          string
	SecretKeyStrict    bool
	SecretKeyGenerated bool

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	CookieSecure    bool

	LoginMaxAttempts   int
	LoginLockout       time.Duration
	LoginWindow        time.Duration
	LoginTracker       string // memory or redis
	RegisterAdminMode  string // downgrade or reject
	PermissionCacheTTL time.Duration
}

// DefaultAdminSettings configures the startup admin reconciliation
type DefaultAdminSettings struct {
	Email      string
	Password   string
	FullName   string
	ForceReset bool
	AutoReset  bool
}

// Configured reports whether bootstrap should run
func (d DefaultAdminSettings) Configured() bool {
	return d.Email != "" && d.Password != ""
}

// CORSSettings holds allowed origins
type CORSSettings struct {
	Origins []string
	// AllowLocalhost enables the localhost origin pattern (native or development).
	AllowLocalhost bool
}

// CSRFSettings configures the double-submit cookie protection
type CSRFSettings struct {
	Enabled        bool
	HeaderName     string
	CookieName     string
	CookieSecure   bool
	CookieSameSite string
	TokenLocation  string
	BodyField      string
	ExemptPaths    []string
}

// RateLimitSettings configures per-IP limits on authentication endpoints
type RateLimitSettings struct {
	Enabled       bool
	AuthPerMinute int
	AuthBurst     int
}

// ExportSettings configures where generated exports are written
type ExportSettings struct {
	Storage        string // filesystem or s3
	Dir            string
	RetentionHours int
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// AuditSettings configures audit retention
type AuditSettings struct {
	RetentionDays int
}

// MonitoringSettings holds links to the monitoring stack
type MonitoringSettings struct {
	GrafanaURL    string
	PrometheusURL string
	LokiURL       string
}

// ObservabilitySettings holds logging and tracing settings
type ObservabilitySettings struct {
	LogLevel       logrus.Level
	MetricsEnabled bool
	OTelEnabled    bool
	OTelEndpoint   string
	OTelInsecure   bool
}

// FrontendSettings controls the SPA fallback
type FrontendSettings struct {
	Serve bool
	Dir   string
}

// Option customises Load
type Option func(*loadOptions)

type loadOptions struct {
	overrides   map[string]interface{}
	envFile     string
	projectRoot string
	args        []string
	testRun     *bool
	logger      logrus.FieldLogger
}

// WithOverride sets a value that takes precedence over the environment and .env file
func WithOverride(key string, value interface{}) Option {
	return func(o *loadOptions) {
		o.overrides[strings.ToLower(key)] = value
	}
}

// WithEnvFile reads the given .env file instead of searching for one
func WithEnvFile(path string) Option {
	return func(o *loadOptions) {
		o.envFile = path
	}
}

// WithProjectRoot sets the project root used for default paths and SQLite validation
func WithProjectRoot(root string) Option {
	return func(o *loadOptions) {
		o.projectRoot = root
	}
}

// WithArgs replaces os.Args for test-runner detection
func WithArgs(args []string) Option {
	return func(o *loadOptions) {
		o.args = args
	}
}

// WithTestRun forces the CI/test detection result
func WithTestRun(testRun bool) Option {
	return func(o *loadOptions) {
		o.testRun = &testRun
	}
}

// WithLogger sets the logger used for secret-policy warnings
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *loadOptions) {
		o.logger = logger
	}
}

// containerEnvFile is the .env location inside the container image
const containerEnvFile = "/app/.env"

// Load builds Settings from, in priority order, explicit overrides, the
// process environment, a .env file and built-in defaults.
func Load(opts ...Option) (*Settings, error) {
	o := &loadOptions{
		overrides: make(map[string]interface{}),
		args:      os.Args,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	root, err := resolveProjectRoot(o.projectRoot)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	envFile := o.envFile
	if envFile == "" {
		envFile = os.Getenv("ENV_FILE")
	}
	if envFile == "" {
		envFile = findEnvFile(root)
	}
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
	}

	for key, value := range o.overrides {
		v.Set(key, value)
	}

	r := &reader{v: v}
	s := &Settings{
		ProjectRoot: root,
		EnvFile:     envFile,
	}
	if o.testRun != nil {
		s.TestRun = *o.testRun
	} else {
		s.TestRun = DetectTestRun(o.args, os.LookupEnv)
	}

	s.Env = Environment(r.oneOf("sms_env", string(EnvDevelopment), string(EnvStaging), string(EnvProduction)))
	s.ExecutionMode = ExecutionMode(r.oneOf("sms_execution_mode", string(ModeNative), string(ModeDocker)))
	s.AppVersion = r.str("app_version")

	s.Server = loadServerSettings(r)
	s.Database = loadDatabaseSettings(r, s.ExecutionMode, root)
	s.Redis = RedisSettings{URL: r.str("redis_url")}
	s.Auth = loadAuthSettings(r)
	s.DefaultAdmin = loadDefaultAdminSettings(r)
	s.CORS = CORSSettings{
		Origins:        ParseList(r.str("cors_origins")),
		AllowLocalhost: s.ExecutionMode == ModeNative || s.Env == EnvDevelopment,
	}
	s.CSRF = loadCSRFSettings(r, s.Auth.CookieSecure)
	s.RateLimit = RateLimitSettings{
		Enabled:       r.boolean("rate_limit_enabled"),
		AuthPerMinute: r.integer("rate_limit_auth_per_minute"),
		AuthBurst:     r.integer("rate_limit_auth_burst"),
	}
	s.Exports = loadExportSettings(r, s.ExecutionMode, root)
	s.Audit = AuditSettings{RetentionDays: r.integer("audit_retention_days")}
	s.Monitoring = loadMonitoringSettings(r, s.ExecutionMode)
	s.Observability = loadObservabilitySettings(r)
	s.Frontend = FrontendSettings{
		Serve: r.boolean("serve_frontend"),
		Dir:   r.str("frontend_dir"),
	}
	if s.Frontend.Dir == "" {
		s.Frontend.Dir = filepath.Join(root, "frontend", "dist")
	}
	s.SemesterWeeks = r.integer("semester_weeks")
	s.GZipMinimumSize = r.integer("gzip_minimum_size")
	s.TrustedHosts = ParseList(r.str("trusted_hosts"))
	proxies, err := ParseProxies(ParseList(r.str("trusted_proxies")))
	if err != nil {
		r.fail(err)
	}
	s.TrustedProxies = proxies
	s.DisableStartupTasks = r.boolean("disable_startup_tasks")

	if err := r.err(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := applySecretPolicy(s, o.logger); err != nil {
		return nil, err
	}

	if !s.Auth.Enabled && s.Auth.ConfigMode == AuthStrict {
		o.logger.Warn("AUTH_MODE=strict has no effect while AUTH_ENABLED=false; authorization is disabled")
	}

	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sms_env", string(EnvDevelopment))
	v.SetDefault("sms_execution_mode", string(ModeNative))
	v.SetDefault("app_version", "1.0.0")

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", "8000")
	v.SetDefault("read_timeout", "15s")
	v.SetDefault("write_timeout", "60s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("shutdown_grace_seconds", 10)

	v.SetDefault("database_engine", "sqlite")
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_db", "student_management")
	v.SetDefault("database_max_open_conns", 10)

	v.SetDefault("auth_enabled", false)
	v.SetDefault("auth_mode", string(AuthDisabled))
	v.SetDefault("secret_key_strict_enforcement", false)
	v.SetDefault("access_token_expire_minutes", 30)
	v.SetDefault("refresh_token_expire_days", 7)
	v.SetDefault("cookie_secure", false)
	v.SetDefault("auth_login_max_attempts", 5)
	v.SetDefault("auth_login_lockout_seconds", 300)
	v.SetDefault("auth_login_tracking_window_seconds", 300)
	v.SetDefault("auth_login_tracker", "memory")
	v.SetDefault("auth_register_admin_policy", "downgrade")
	v.SetDefault("auth_permission_cache_seconds", 30)

	v.SetDefault("default_admin_force_reset", false)
	v.SetDefault("default_admin_auto_reset", false)

	v.SetDefault("cors_origins", "http://localhost:5173,http://localhost:8080")

	v.SetDefault("csrf_enabled", true)
	v.SetDefault("csrf_header_name", "X-CSRF-Token")
	v.SetDefault("csrf_cookie_name", "fastapi-csrf-token")
	v.SetDefault("csrf_cookie_samesite", "lax")
	v.SetDefault("csrf_token_location", "header")
	v.SetDefault("csrf_body_field", "csrf_token")
	v.SetDefault("csrf_exempt_paths", "/api/v1/security/csrf,/security/csrf,/docs,/redoc,/openapi.json,/health,/metrics")

	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_auth_per_minute", 30)
	v.SetDefault("rate_limit_auth_burst", 10)

	v.SetDefault("export_storage", "filesystem")
	v.SetDefault("export_retention_hours", 72)
	v.SetDefault("s3_region", "us-east-1")

	v.SetDefault("audit_retention_days", 0)

	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("otel_insecure", true)

	v.SetDefault("serve_frontend", false)
	v.SetDefault("semester_weeks", 14)
	v.SetDefault("gzip_minimum_size", 1000)
	v.SetDefault("trusted_hosts", "localhost,127.0.0.1")
	v.SetDefault("trusted_proxies", "")
	v.SetDefault("disable_startup_tasks", false)
}

func loadServerSettings(r *reader) ServerSettings {
	return ServerSettings{
		Host:          r.str("host"),
		Port:          r.str("port"),
		ReadTimeout:   r.duration("read_timeout"),
		WriteTimeout:  r.duration("write_timeout"),
		IdleTimeout:   r.duration("idle_timeout"),
		ShutdownGrace: time.Duration(r.integer("shutdown_grace_seconds")) * time.Second,
	}
}

func loadAuthSettings(r *reader) AuthSettings {
	a := AuthSettings{
		Enabled:            r.boolean("auth_enabled"),
		ConfigMode:         AuthMode(r.oneOf("auth_mode", string(AuthDisabled), string(AuthPermissive), string(AuthStrict))),
		SecretKey:          r.str("secret_key"),
		SecretKeyStrict:    r.boolean("secret_key_strict_enforcement"),
		AccessTokenTTL:     time.Duration(r.integer("access_token_expire_minutes")) * time.Minute,
		RefreshTokenTTL:    time.Duration(r.integer("refresh_token_expire_days")) * 24 * time.Hour,
		CookieSecure:       r.boolean("cookie_secure"),
		LoginMaxAttempts:   r.integer("auth_login_max_attempts"),
		LoginLockout:       time.Duration(r.integer("auth_login_lockout_seconds")) * time.Second,
		LoginWindow:        time.Duration(r.integer("auth_login_tracking_window_seconds")) * time.Second,
		LoginTracker:       r.oneOf("auth_login_tracker", "memory", "redis"),
		RegisterAdminMode:  r.oneOf("auth_register_admin_policy", "downgrade", "reject"),
		PermissionCacheTTL: time.Duration(r.integer("auth_permission_cache_seconds")) * time.Second,
	}
	a.Mode = a.ConfigMode
	if !a.Enabled {
		a.Mode = AuthDisabled
	}
	return a
}

func loadDefaultAdminSettings(r *reader) DefaultAdminSettings {
	return DefaultAdminSettings{
		Email:      strings.ToLower(strings.TrimSpace(r.str("default_admin_email"))),
		Password:   r.str("default_admin_password"),
		FullName:   r.str("default_admin_full_name"),
		ForceReset: r.boolean("default_admin_force_reset"),
		AutoReset:  r.boolean("default_admin_auto_reset"),
	}
}

func loadCSRFSettings(r *reader, cookieSecure bool) CSRFSettings {
	c := CSRFSettings{
		Enabled:        r.boolean("csrf_enabled"),
		HeaderName:     r.str("csrf_header_name"),
		CookieName:     r.str("csrf_cookie_name"),
		CookieSecure:   cookieSecure,
		CookieSameSite: r.oneOf("csrf_cookie_samesite", "lax", "strict", "none"),
		TokenLocation:  r.oneOf("csrf_token_location", "header", "body"),
		BodyField:      r.str("csrf_body_field"),
		ExemptPaths:    ParseList(r.str("csrf_exempt_paths")),
	}
	if r.isSet("csrf_cookie_secure") {
		c.CookieSecure = r.boolean("csrf_cookie_secure")
	}
	return c
}

func loadExportSettings(r *reader, mode ExecutionMode, root string) ExportSettings {
	e := ExportSettings{
		Storage:        r.oneOf("export_storage", "filesystem", "s3"),
		Dir:            r.str("export_dir"),
		RetentionHours: r.integer("export_retention_hours"),
		S3Bucket:       r.str("s3_bucket"),
		S3Region:       r.str("s3_region"),
		S3Endpoint:     r.str("s3_endpoint"),
		S3AccessKey:    r.str("s3_access_key"),
		S3SecretKey:    r.str("s3_secret_key"),
		S3UsePathStyle: r.boolean("s3_use_path_style"),
	}
	if e.Dir == "" {
		if mode == ModeDocker {
			e.Dir = "/data/exports"
		} else {
			e.Dir = filepath.Join(root, "data", "exports")
		}
	}
	return e
}

func loadMonitoringSettings(r *reader, mode ExecutionMode) MonitoringSettings {
	host := func(service string) string {
		if mode == ModeDocker {
			return service
		}
		return "localhost"
	}
	m := MonitoringSettings{
		GrafanaURL:    r.str("grafana_url"),
		PrometheusURL: r.str("prometheus_url"),
		LokiURL:       r.str("loki_url"),
	}
	if m.GrafanaURL == "" {
		m.GrafanaURL = fmt.Sprintf("http://%s:3000", host("grafana"))
	}
	if m.PrometheusURL == "" {
		m.PrometheusURL = fmt.Sprintf("http://%s:9090", host("prometheus"))
	}
	if m.LokiURL == "" {
		m.LokiURL = fmt.Sprintf("http://%s:3100", host("loki"))
	}
	return m
}

func loadObservabilitySettings(r *reader) ObservabilitySettings {
	level, err := logrus.ParseLevel(r.str("log_level"))
	if err != nil {
		r.fail(fmt.Errorf("invalid LOG_LEVEL %q", r.str("log_level")))
		level = logrus.InfoLevel
	}
	return ObservabilitySettings{
		LogLevel:       level,
		MetricsEnabled: r.boolean("metrics_enabled"),
		OTelEnabled:    r.boolean("otel_enabled"),
		OTelEndpoint:   r.str("otel_endpoint"),
		OTelInsecure:   r.boolean("otel_insecure"),
	}
}

// Validate checks ranges and cross-field rules
func (s *Settings) Validate() error {
	if s.Server.Port == "" {
		return errors.New("PORT must be set")
	}
	if s.SemesterWeeks < 1 || s.SemesterWeeks > 52 {
		return fmt.Errorf("SEMESTER_WEEKS must be between 1 and 52, got %d", s.SemesterWeeks)
	}
	if s.Auth.LoginMaxAttempts < 1 {
		return fmt.Errorf("AUTH_LOGIN_MAX_ATTEMPTS must be at least 1, got %d", s.Auth.LoginMaxAttempts)
	}
	if s.Auth.LoginLockout < time.Second {
		return errors.New("AUTH_LOGIN_LOCKOUT_SECONDS must be at least 1")
	}
	if s.Auth.LoginWindow < time.Second {
		return errors.New("AUTH_LOGIN_TRACKING_WINDOW_SECONDS must be at least 1")
	}
	if s.Auth.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if s.Auth.RefreshTokenTTL <= 0 {
		return errors.New("REFRESH_TOKEN_EXPIRE_DAYS must be positive")
	}
	if s.Auth.LoginTracker == "redis" && s.Redis.URL == "" {
		return errors.New("REDIS_URL is required when AUTH_LOGIN_TRACKER=redis")
	}
	if s.CSRF.HeaderName == "" {
		return errors.New("CSRF_HEADER_NAME must be set")
	}
	if s.CSRF.CookieSameSite == "none" && !s.CSRF.CookieSecure {
		return errors.New("CSRF_COOKIE_SAMESITE=none requires a secure cookie")
	}
	if s.GZipMinimumSize < 0 {
		return errors.New("GZIP_MINIMUM_SIZE must not be negative")
	}
	if s.Exports.Storage == "s3" && s.Exports.S3Bucket == "" {
		return errors.New("S3_BUCKET is required when EXPORT_STORAGE=s3")
	}
	if s.Observability.OTelEnabled && s.Observability.OTelEndpoint == "" {
		return errors.New("OTEL_ENDPOINT is required when OTEL_ENABLED=true")
	}
	if err := s.Database.validate(s.ExecutionMode, s.ProjectRoot); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (s *Settings) IsProduction() bool {
	return s.Env == EnvProduction
}

// Addr returns the listen address
func (s *Settings) Addr() string {
	return s.Server.Host + ":" + s.Server.Port
}

func resolveProjectRoot(root string) (string, error) {
	if root == "" {
		root = os.Getenv("PROJECT_ROOT")
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to determine working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid project root %q: %w", root, err)
	}
	return abs, nil
}

// findEnvFile prefers the local development file over the container path
func findEnvFile(root string) string {
	for _, candidate := range []string{filepath.Join(root, ".env"), containerEnvFile} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
