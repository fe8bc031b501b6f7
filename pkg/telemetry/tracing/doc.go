// Package tracing exports OpenTelemetry spans for batch runs and tasks.
//
// Spans are exported over OTLP gRPC. Sampling is always, never or a trace
// ID ratio, wrapped in ParentBased so every task span follows the decision
// of its run span.
//
//	tracer, err := tracing.New(cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	runner := scheduler.NewRunner(limiter, scheduler.Options{
//	    Tracer: tracer.Tracer(),
//	})
//
// Attribute keys live in the bulkllm.* namespace. SetError classifies
// admission failures so configuration errors and cancellations can be told
// apart from task failures.
package tracing
