// Package limits builds the rate limit ledger from configuration and keeps
// it observable and durable.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - ratelimit: rules, reservations, and the rule registry
//   - storage: usage journal backends (memory, SQLite, Redis) and retention
//
// The Manager in this package wires them together. It is the Observer of
// every rule it builds: ledger events update Metrics, and recorded usage is
// appended to the journal on a background goroutine. Restore replays the
// journal into the rules so budgets survive a restart.
//
// # Usage
//
//	manager, err := limits.NewManager(limits.Config{
//	    RateLimits: cfg.RateLimits,
//	    Storage:    backend,
//	})
//	if err != nil {
//	    return err
//	}
//	defer manager.Close(ctx)
//
//	rule := manager.GetRule("gpt-4o")
//	err = rule.Do(ctx, 1200, 400, func(ctx context.Context, res *ratelimit.Reservation) error {
//	    usage, err := call(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    return res.RecordUsage(usage.Input, usage.Output)
//	})
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use.
package limits
