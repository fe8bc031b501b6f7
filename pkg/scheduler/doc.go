// Package scheduler runs batches of rate-limited tasks with per-resource
// worker pools.
//
// Each resource gets a Scheduler holding a FIFO queue and a bounded set of
// concurrency slots. Its worker asks the resource's rule for admission
// before running a task; a task that does not fit right now is moved behind
// later arrivals and retried once the rule releases capacity. A task that
// can never fit its rule fails with a *ratelimit.ConfigurationError.
//
// The Runner owns the schedulers:
//
//	runner := scheduler.NewRunner(manager.Limiter(), scheduler.Options{
//	    MaxWorkersPerResource: 4,
//	    Resolver:              resolver,
//	})
//	handles := runner.Submit(tasks...)
//	if err := runner.Run(ctx); err != nil {
//	    return err
//	}
//
// Task failures are reported only through the task's Handle. They never
// stop a worker or affect other tasks.
package scheduler
