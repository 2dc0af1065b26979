// Package lifespan orders process startup and shutdown: query hooks,
// schedulers, background tasks and the one-off startup tasks (migrations,
// RBAC defaults, default admin).
package lifespan

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/sms/pkg/async"
	"github.com/platinummonkey/sms/pkg/auth"
	"github.com/platinummonkey/sms/pkg/observability"
	"github.com/platinummonkey/sms/pkg/rbac"
	"github.com/platinummonkey/sms/pkg/storage"
)

// Migrator upgrades the schema to head
type Migrator interface {
	Run(ctx context.Context) error
}

// DefaultsEnsurer seeds the default roles and permissions
type DefaultsEnsurer interface {
	EnsureDefaults(ctx context.Context) (rbac.EnsureResult, error)
}

// AdminBootstrapper reconciles the configured default admin
type AdminBootstrapper interface {
	Run(ctx context.Context) auth.BootstrapResult
}

// Scheduler is a start/stop maintenance scheduler
type Scheduler interface {
	Start()
	Stop(ctx context.Context) error
}

// BackgroundTask is a long-running task started with the process and
// cancelled at shutdown
type BackgroundTask struct {
	Name string
	Run  func(ctx context.Context) error
}

// Options configure a Lifespan. Nil members are skipped.
type Options struct {
	DB         *storage.DB
	QueryHooks []storage.QueryHook
	Schedulers []Scheduler
	Background []BackgroundTask

	Migrations Migrator
	Defaults   DefaultsEnsurer
	Bootstrap  AdminBootstrapper

	// SkipStartupTasks disables migrations, defaults and bootstrap, as
	// under a test run or DISABLE_STARTUP_TASKS.
	SkipStartupTasks bool
	ShutdownGrace    time.Duration
	Logger           logrus.FieldLogger
}

// Lifespan runs startup and shutdown
type Lifespan struct {
	opts Options

	mu        sync.Mutex
	started   bool
	stopped   bool
	startedAt time.Time
	tasks     *async.Tasks
	ready     chan struct{}
	result    StartupResult
}

// StartupResult records the outcome of the startup tasks
type StartupResult struct {
	Skipped    bool
	Migrations error
	Defaults   error
	Bootstrap  error
}

// New creates a lifespan
func New(opts Options) *Lifespan {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 10 * time.Second
	}
	return &Lifespan{opts: opts, ready: make(chan struct{})}
}

// Start runs the startup sequence. Startup tasks run in the background;
// Ready is closed once they finish. Start never fails the process: every
// failure is logged.
func (l *Lifespan) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.startedAt = time.Now().UTC()
	logger := l.opts.Logger

	if l.opts.DB != nil {
		for _, h := range l.opts.QueryHooks {
			l.opts.DB.AddHook(h)
		}
	}

	for _, s := range l.opts.Schedulers {
		func() {
			defer observability.RecoverPanic(logger, "scheduler start")
			s.Start()
		}()
	}

	l.tasks = async.NewTasks(context.WithoutCancel(ctx), logger)
	for _, t := range l.opts.Background {
		l.tasks.Go(t.Name, 0, t.Run)
	}

	if l.opts.SkipStartupTasks {
		logger.Info("startup tasks disabled")
		l.result.Skipped = true
		close(l.ready)
		return
	}
	l.tasks.Go("startup", 0, func(ctx context.Context) error {
		defer close(l.ready)
		res := l.runStartupTasks(ctx)
		l.mu.Lock()
		l.result = res
		l.mu.Unlock()
		return nil
	})
}

// runStartupTasks runs each step in order. A failing step is logged and
// does not prevent the next one.
func (l *Lifespan) runStartupTasks(ctx context.Context) StartupResult {
	var res StartupResult
	logger := l.opts.Logger

	if l.opts.Migrations != nil {
		start := time.Now()
		// migrations run to completion even when shutdown starts
		res.Migrations = isolate(func() error { return l.opts.Migrations.Run(context.WithoutCancel(ctx)) })
		if res.Migrations != nil {
			logger.WithError(res.Migrations).Error("database migrations failed")
		} else {
			logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("database migrations complete")
		}
	}

	if l.opts.Defaults != nil {
		var ensured rbac.EnsureResult
		err := isolate(func() (err error) {
			ensured, err = l.opts.Defaults.EnsureDefaults(ctx)
			return err
		})
		res.Defaults = err
		if err != nil {
			logger.WithError(err).Error("failed to ensure default roles and permissions")
		} else if ensured.Changed() {
			logger.WithFields(logrus.Fields{
				"roles_created":       ensured.RolesCreated,
				"permissions_created": ensured.PermissionsCreated,
				"grants_added":        ensured.GrantsAdded,
			}).Info("default roles and permissions ensured")
		}
	}

	if l.opts.Bootstrap != nil {
		res.Bootstrap = isolate(func() error { return l.opts.Bootstrap.Run(ctx).Err })
	}
	return res
}

// isolate runs one startup step, turning a panic into the step's error
func isolate(step func() error) (err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
	}()
	return step()
}

// Ready is closed when the startup tasks have finished or were skipped
func (l *Lifespan) Ready() <-chan struct{} {
	return l.ready
}

// Result returns the startup outcome. It is only meaningful after Ready.
func (l *Lifespan) Result() StartupResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}

// StartedAt is when Start ran
func (l *Lifespan) StartedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedAt
}

// Stop stops the schedulers and cancels background tasks, waiting at most
// the shutdown grace period. Stop is idempotent.
func (l *Lifespan) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	tasks := l.tasks
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.opts.ShutdownGrace)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range l.opts.Schedulers {
		s := s
		g.Go(func() error { return s.Stop(gctx) })
	}
	g.Go(func() error { return tasks.Stop(ctx) })

	err := g.Wait()
	if err != nil {
		l.opts.Logger.WithError(err).Warn("shutdown did not complete cleanly")
	} else {
		l.opts.Logger.Info("lifespan stopped")
	}
	return err
}
