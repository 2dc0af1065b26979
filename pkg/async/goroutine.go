package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes fn in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement (timeout <= 0 means none)
// - Error logging
//
// Use this instead of bare `go func()` for work nobody waits on.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger logrus.FieldLogger, fn func(context.Context) error) {
	go func() {
		_ = run(parentCtx, timeout, taskName, logger, fn)
	}()
}

// run executes fn synchronously with the SafeGo guarantees and returns its
// error, or an error describing a recovered panic
func run(parentCtx context.Context, timeout time.Duration, taskName string, logger logrus.FieldLogger, fn func(context.Context) error) (err error) {
	ctx, cancel := parentCtx, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
	}
	defer cancel()

	entry := logger.WithField("task", taskName)
	defer func() {
		if r := recover(); r != nil {
			entry.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("PANIC in background task")
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err = fn(ctx); err != nil {
		if errors.Is(err, context.Canceled) && parentCtx.Err() != nil {
			entry.Debug("background task cancelled")
			return err
		}
		// Logged, not propagated: the caller decides whether it matters
		entry.WithError(err).Error("background task failed")
	}
	return err
}

// Tasks is a set of background tasks sharing one cancellable context
type Tasks struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger logrus.FieldLogger
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	running map[string]int
}

// NewTasks creates a task set derived from parent
func NewTasks(parent context.Context, logger logrus.FieldLogger) *Tasks {
	ctx, cancel := context.WithCancel(parent)
	return &Tasks{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		running: make(map[string]int),
	}
}

// Go starts fn unless the set is stopped. It reports whether the task was
// started.
func (t *Tasks) Go(name string, timeout time.Duration, fn func(context.Context) error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.running[name]++
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			if t.running[name]--; t.running[name] <= 0 {
				delete(t.running, name)
			}
			t.mu.Unlock()
		}()
		_ = run(t.ctx, timeout, name, t.logger, fn)
	}()
	return true
}

// Running returns the names of tasks still running
func (t *Tasks) Running() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.running))
	for name := range t.running {
		names = append(names, name)
	}
	return names
}

// Stop cancels every task and waits for them until ctx is done. Stop is
// idempotent.
func (t *Tasks) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running %v: %w", t.Running(), ctx.Err())
	}
}
