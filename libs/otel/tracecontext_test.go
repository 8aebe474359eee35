package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if tp, ts := TraceContextStrings(context.Background()); tp != "" || ts != "" {
		t.Fatalf("expected empty trace context, got %q %q", tp, ts)
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

	tp, ts := TraceContextStrings(ctx)
	if tp == "" {
		t.Fatal("expected traceparent")
	}
	restored := trace.SpanContextFromContext(ContextWithTraceContext(context.Background(), tp, ts))
	if restored.TraceID() != sc.TraceID() || restored.SpanID() != sc.SpanID() {
		t.Fatalf("expected %s/%s, got %s/%s", sc.TraceID(), sc.SpanID(), restored.TraceID(), restored.SpanID())
	}

	bare := context.Background()
	if got := ContextWithTraceContext(bare, "", "ignored"); got != bare {
		t.Fatal("expected context unchanged without traceparent")
	}
}
