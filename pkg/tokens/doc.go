// Package tokens estimates token usage for prompts before a task is
// submitted, so the scheduler can reserve capacity against token limits.
//
// Estimation is character based. Each resource maps to a characters-per-token
// ratio through the longest matching prefix in the configured table:
//
//	est := tokens.NewEstimator(cfg.Estimation)
//	e := est.Estimate("anthropic/claude-3-5-sonnet", messages, 512)
//	task := scheduler.Task{
//	    Resource:              "anthropic/claude-3-5-sonnet",
//	    EstimatedInputTokens:  e.InputTokens,
//	    EstimatedOutputTokens: e.OutputTokens,
//	    Action:                call,
//	}
//
// Estimates only size reservations. The ledger always records the usage the
// action reports.
package tokens
