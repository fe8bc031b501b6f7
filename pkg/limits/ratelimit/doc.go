// Package ratelimit provides the admission-control ledger used to keep LLM
// workloads inside per-model throughput budgets.
//
// # Overview
//
// A Rule owns the budget for every resource identifier it matches. Budgets
// are expressed per rolling window (60 seconds unless configured otherwise)
// across four optional dimensions:
//
//   - Requests per window
//   - Input tokens per window
//   - Output tokens per window
//   - Total (input+output) tokens per window
//
// A dimension left nil is unbounded.
//
// # Ledger
//
// Each Rule tracks two collections. Pending entries are reservations that
// have been admitted but not yet finalized. Completed entries are recorded
// usage, pruned to the trailing window before every capacity decision. A
// unit of work is always in exactly one of them once reserved:
//
//	res, err := rule.ReserveCapacity(1200, 400)
//	if err != nil {
//	    // *CapacityExceededError: retry later
//	    // *ConfigurationError: the request can never fit
//	}
//	usage, callErr := callModel(ctx)
//	if callErr != nil {
//	    res.Cancel() // failed attempts consume no budget
//	    return callErr
//	}
//	return res.RecordUsage(usage.Input, usage.Output)
//
// Rule.Do wraps the same lifecycle in a scope: the reservation is cancelled
// when the function fails or panics, and returning without recording usage
// yields a *ProgrammingError.
//
// # Registry
//
// Limiter maps resource identifiers to rules. An exact pattern match on any
// rule wins over every regex match; regex matches are tried in registration
// order; unmatched identifiers get the unbounded default rule.
//
// # Thread Safety
//
// Each Rule serializes its ledger behind a single mutex so that the capacity
// check and the pending insert in ReserveCapacity are one atomic step. No
// operation ever holds two rules' locks.
package ratelimit
