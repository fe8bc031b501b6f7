package logging

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	ctx = WithRunID(ctx, "run-1")
	ctx = WithTaskID(ctx, "task-1")
	ctx = WithResource(ctx, "openai/gpt-4o")
	ctx = WithRule(ctx, "openai")

	tests := []struct {
		name string
		get  func(context.Context) string
		want string
	}{
		{"run id", GetRunID, "run-1"},
		{"task id", GetTaskID, "task-1"},
		{"resource", GetResource, "openai/gpt-4o"},
		{"rule", GetRule, "openai"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.get(ctx); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if got := tt.get(context.Background()); got != "" {
				t.Errorf("empty context returned %q", got)
			}
		})
	}
}

func TestContextOverwrite(t *testing.T) {
	ctx := WithTaskID(context.Background(), "old")
	ctx = WithTaskID(ctx, "new")
	if got := GetTaskID(ctx); got != "new" {
		t.Errorf("GetTaskID() = %q, want %q", got, "new")
	}
}

func testSpanContext() trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03},
		SpanID:     trace.SpanID{0x0a, 0x0b},
		TraceFlags: trace.FlagsSampled,
	})
}

func TestExtractContextFields(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want map[string]string
	}{
		{
			name: "empty",
			ctx:  context.Background(),
			want: map[string]string{},
		},
		{
			name: "task fields",
			ctx:  WithRule(WithResource(WithTaskID(context.Background(), "t1"), "r1"), "rule1"),
			want: map[string]string{"task_id": "t1", "resource": "r1", "rule": "rule1"},
		},
		{
			name: "span context",
			ctx:  trace.ContextWithSpanContext(WithRunID(context.Background(), "run"), testSpanContext()),
			want: map[string]string{
				"run_id":   "run",
				"trace_id": testSpanContext().TraceID().String(),
				"span_id":  testSpanContext().SpanID().String(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := extractContextFields(tt.ctx)
			if len(fields)%2 != 0 {
				t.Fatalf("odd number of fields: %v", fields)
			}
			got := make(map[string]string)
			for i := 0; i < len(fields); i += 2 {
				got[fields[i].(string)] = fields[i+1].(string)
			}
			if len(got) != len(tt.want) {
				t.Errorf("got %d fields, want %d: %v", len(got), len(tt.want), got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func BenchmarkExtractContextFields(b *testing.B) {
	ctx := WithTaskID(WithResource(context.Background(), "openai/gpt-4o"), "t1")
	for i := 0; i < b.N; i++ {
		_ = extractContextFields(ctx)
	}
}
