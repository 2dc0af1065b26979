package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sms/pkg/audit"
	"github.com/platinummonkey/sms/pkg/auth"
	"github.com/platinummonkey/sms/pkg/config"
	"github.com/platinummonkey/sms/pkg/lifespan"
	"github.com/platinummonkey/sms/pkg/middleware"
	"github.com/platinummonkey/sms/pkg/migrate"
	"github.com/platinummonkey/sms/pkg/observability"
	"github.com/platinummonkey/sms/pkg/rbac"
	"github.com/platinummonkey/sms/pkg/roster"
	"github.com/platinummonkey/sms/pkg/scheduler"
	"github.com/platinummonkey/sms/pkg/storage"
)

// ServiceName identifies the service in traces and logs
const ServiceName = "sms"

// slowQueryThreshold is when the profiler logs a statement as slow
const slowQueryThreshold = 500 * time.Millisecond

// Server represents our API server
type Server struct {
	settings *config.Settings
	logger   *logrus.Logger

	db      *storage.DB
	redis   *redis.Client
	objects storage.ObjectStore

	metrics    *observability.Metrics
	profiler   *observability.QueryProfiler
	health     *observability.HealthChecker
	migrations *migrate.Runner
	otel       *observability.OTelProviders

	audit    *audit.Service
	auth     *auth.Service
	rbac     *rbac.Service
	enforcer *rbac.Enforcer
	roster   *roster.Service
	csrf     *middleware.CSRF
	limiter  middleware.Limiter

	scheduler *scheduler.Scheduler
	lifespan  *lifespan.Lifespan

	router  *mux.Router
	handler http.Handler
}

// New builds a server from settings. It opens the database and optional
// Redis connection but does not start background work; see Start.
func New(ctx context.Context, settings *config.Settings, logger *logrus.Logger) (*Server, error) {
	s := &Server{settings: settings, logger: logger}

	registry := prometheus.NewRegistry()
	s.metrics = observability.NewMetrics(registry)
	s.profiler = observability.NewQueryProfiler(s.metrics, logger, slowQueryThreshold)

	db, err := storage.Open(ctx, settings.Database)
	if err != nil {
		return nil, err
	}
	s.db = db

	if err := s.connectRedis(ctx); err != nil {
		s.db.Close()
		return nil, err
	}

	if objects, err := storage.NewObjectStore(ctx, settings.Exports); err != nil {
		logger.WithError(err).Warn("export storage unavailable, exports disabled")
	} else {
		s.objects = objects
	}

	if s.migrations, err = migrate.New(db, logger); err != nil {
		s.close()
		return nil, err
	}
	s.health = observability.NewHealthChecker(db.DB, s.redis, s.migrations, settings.AppVersion)

	s.buildServices()
	if err := s.buildScheduler(); err != nil {
		s.close()
		return nil, err
	}
	s.buildLifespan()

	handler, err := s.buildHandler()
	if err != nil {
		s.close()
		return nil, err
	}
	s.handler = handler

	if settings.Observability.OTelEnabled {
		providers, err := observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       settings.Observability.OTelEndpoint,
			ServiceName:    ServiceName,
			ServiceVersion: settings.AppVersion,
			Insecure:       settings.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("OpenTelemetry disabled")
		} else {
			s.otel = providers
			s.handler = observability.TraceHandler(s.handler, ServiceName)
		}
	}
	return s, nil
}

// connectRedis opens the shared cache when REDIS_URL is set. It is only
// required by the Redis login tracker; otherwise failures degrade to the
// in-process implementations.
func (s *Server) connectRedis(ctx context.Context) error {
	url := s.settings.Redis.URL
	if url == "" {
		if s.settings.Auth.LoginTracker == "redis" {
			return errors.New("AUTH_LOGIN_TRACKER=redis requires REDIS_URL")
		}
		return nil
	}
	client, err := storage.NewRedisClient(ctx, url)
	if err != nil {
		if s.settings.Auth.LoginTracker == "redis" {
			return fmt.Errorf("redis login tracker: %w", err)
		}
		s.logger.WithError(err).Warn("redis unavailable, using in-process rate limiting")
		return nil
	}
	s.redis = client
	return nil
}

func (s *Server) buildServices() {
	cfg := s.settings.Auth

	s.audit = audit.NewService(s.db, s.metrics)

	trackerCfg := auth.TrackerConfig{
		MaxAttempts: cfg.LoginMaxAttempts,
		Lockout:     cfg.LoginLockout,
		Window:      cfg.LoginWindow,
	}
	var tracker auth.LoginTracker = auth.NewMemoryTracker(trackerCfg)
	if cfg.LoginTracker == "redis" && s.redis != nil {
		tracker = auth.NewRedisTracker(s.redis, trackerCfg)
	}
	tokens := auth.NewTokenManager(cfg.SecretKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	s.auth = auth.NewService(s.db, tokens, tracker, cfg, s.metrics)

	checker := rbac.NewChecker(s.db, cfg.PermissionCacheTTL)
	s.rbac = rbac.NewService(s.db, checker, s.logger)
	s.enforcer = rbac.NewEnforcer(checker, cfg.Mode, s.metrics)

	s.roster = roster.NewService(s.db, s.objects, s.audit, s.logger)
	s.csrf = middleware.NewCSRF(s.settings.CSRF, cfg.SecretKey, s.metrics)

	rl := middleware.RateLimitConfig{
		RequestsPerMinute: s.settings.RateLimit.AuthPerMinute,
		Burst:             s.settings.RateLimit.AuthBurst,
	}
	if s.redis != nil {
		s.limiter = middleware.NewDistributedRateLimiter(s.redis, rl, "")
	} else {
		s.limiter = middleware.NewRateLimiter(rl)
	}
}

func (s *Server) buildScheduler() error {
	s.scheduler = scheduler.New(s.logger, s.metrics, 0)
	maintenance := scheduler.Maintenance{
		Exports:        s.objects,
		ExportPrefix:   roster.ExportPrefix,
		ExportMaxAge:   time.Duration(s.settings.Exports.RetentionHours) * time.Hour,
		Tokens:         s.auth,
		Audit:          s.audit.Store(),
		AuditRetention: time.Duration(s.settings.Audit.RetentionDays) * 24 * time.Hour,
	}
	for _, job := range maintenance.Jobs(s.logger) {
		if err := s.scheduler.Add(job); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) buildLifespan() {
	var background []lifespan.BackgroundTask
	if local, ok := s.limiter.(*middleware.RateLimiter); ok {
		background = append(background, lifespan.BackgroundTask{
			Name: "rate_limit_cleanup",
			Run: func(ctx context.Context) error {
				local.StartCleanup(ctx, time.Minute, s.logger)
				<-ctx.Done()
				return nil
			},
		})
	}

	if s.settings.EnvFile != "" && !s.settings.TestRun {
		background = append(background, lifespan.BackgroundTask{
			Name: "log_level_watcher",
			Run: func(ctx context.Context) error {
				return config.WatchLogLevel(ctx, s.settings.EnvFile, s.logger)
			},
		})
	}

	s.lifespan = lifespan.New(lifespan.Options{
		DB:               s.db,
		QueryHooks:       []storage.QueryHook{s.profiler},
		Schedulers:       []lifespan.Scheduler{s.scheduler},
		Background:       background,
		Migrations:       s.migrations,
		Defaults:         s.rbac,
		Bootstrap:        auth.NewBootstrapper(s.db, s.settings.DefaultAdmin, s.rbac, s.logger),
		SkipStartupTasks: s.settings.TestRun || s.settings.DisableStartupTasks,
		ShutdownGrace:    s.settings.Server.ShutdownGrace,
		Logger:           s.logger,
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Lifespan returns the startup and shutdown orchestrator
func (s *Server) Lifespan() *lifespan.Lifespan {
	return s.lifespan
}

// DB returns the database handle
func (s *Server) DB() *storage.DB {
	return s.db
}

// Start runs the startup sequence. The startup tasks continue in the
// background; wait on Lifespan().Ready() when they must have finished.
func (s *Server) Start(ctx context.Context) {
	s.health.SetStartedAt(time.Now())
	s.lifespan.Start(ctx)
}

// Shutdown stops background work and releases connections
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.lifespan.Stop(ctx)
	if s.otel != nil {
		if otelErr := observability.ShutdownOTel(ctx, s.otel); otelErr != nil {
			err = errors.Join(err, otelErr)
		}
	}
	s.close()
	return err
}

func (s *Server) close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.WithError(err).Warn("failed to close database")
	}
}

// Run serves HTTP until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.settings.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.settings.Server.ReadTimeout,
		WriteTimeout: s.settings.Server.WriteTimeout,
		IdleTimeout:  s.settings.Server.IdleTimeout,
	}

	s.Start(ctx)

	shutdown := observability.NewShutdownManager(s.logger, httpServer, s.settings.Server.ShutdownGrace)
	shutdown.RegisterShutdownFunc("lifespan", s.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"addr":    httpServer.Addr,
			"env":     s.settings.Env,
			"mode":    s.settings.ExecutionMode,
			"version": s.settings.AppVersion,
		}).Info("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok && err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return shutdown.WaitForShutdown(ctx)
	}
}
