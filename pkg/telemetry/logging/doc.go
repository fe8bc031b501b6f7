// Package logging provides structured logging on top of log/slog.
//
// A Logger writes JSON, text or console output. Its handler adds the run
// ID, task ID and OpenTelemetry trace identifiers found in the context of
// every *Context call, so components that only hold the *slog.Logger from
// Slog() still get correlated records:
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//	ctx = logging.WithRunID(ctx, runID)
//	logger.InfoContext(ctx, "batch started", "tasks", len(tasks))
//
// The scheduler stores the task ID, resource and rule in the context passed
// to each task action; actions can read them back with GetTaskID,
// GetResource and GetRule.
package logging
