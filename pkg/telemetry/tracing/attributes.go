package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/bulkllm/pkg/limits/ratelimit"
)

// Attribute keys use the "bulkllm.*" namespace.
const (
	AttrRunID    = "bulkllm.run_id"
	AttrTaskID   = "bulkllm.task.id"
	AttrResource = "bulkllm.resource"
	AttrRule     = "bulkllm.rule"

	AttrTokensInput  = "bulkllm.tokens.input"
	AttrTokensOutput = "bulkllm.tokens.output"
	AttrTokensTotal  = "bulkllm.tokens.total"

	AttrRetryCount = "bulkllm.retry_count"
	AttrTaskCount  = "bulkllm.task_count"
	AttrErrorType  = "bulkllm.error.type"
)

// SetTaskAttributes identifies the task a span belongs to.
func SetTaskAttributes(span trace.Span, taskID, resource, rule string) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrResource, resource),
	}
	if rule != "" {
		attrs = append(attrs, attribute.String(AttrRule, rule))
	}
	span.SetAttributes(attrs...)
}

// SetRunAttributes identifies a batch run.
func SetRunAttributes(span trace.Span, runID string, tasks int) {
	span.SetAttributes(
		attribute.String(AttrRunID, runID),
		attribute.Int(AttrTaskCount, tasks),
	)
}

// SetTokenAttributes records the tokens a task consumed.
func SetTokenAttributes(span trace.Span, input, output int64) {
	span.SetAttributes(
		attribute.Int64(AttrTokensInput, input),
		attribute.Int64(AttrTokensOutput, output),
		attribute.Int64(AttrTokensTotal, input+output),
	)
}

// SetRetryAttribute records how many times a task was requeued before it
// was admitted.
func SetRetryAttribute(span trace.Span, retryCount int) {
	span.SetAttributes(attribute.Int(AttrRetryCount, retryCount))
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ratelimit.ErrConfiguration):
		return "configuration"
	case errors.Is(err, ratelimit.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ratelimit.ErrProgramming):
		return "programming"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "task"
	}
}
