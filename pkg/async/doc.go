// Package async runs background work with panic recovery, per-task
// timeouts and cooperative cancellation.
//
// SafeGo starts a single fire-and-forget task:
//
//	async.SafeGo(ctx, 30*time.Second, "cleanup", logger, func(ctx context.Context) error {
//		return prune(ctx)
//	})
//
// Tasks tracks a set of background tasks so shutdown can cancel them and
// wait, bounded by a deadline:
//
//	tasks := async.NewTasks(ctx, logger)
//	tasks.Go("migrations", 0, runMigrations)
//	...
//	err := tasks.Stop(shutdownCtx)
package async
