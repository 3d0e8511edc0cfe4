package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is a span's W3C trace context in storable form. Rows that are
// picked up later by a worker (outbox events, reminder jobs) keep one so the
// worker continues the request's trace.
type TraceContext struct {
	Parent string
	State  string
}

// CaptureTraceContext returns the trace context active in ctx, or the zero
// value when nothing is being traced.
func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Parent: carrier.Get("traceparent"), State: carrier.Get("tracestate")}
}

func (tc TraceContext) IsZero() bool { return tc.Parent == "" && tc.State == "" }

// Resume returns ctx with tc as the remote parent span.
func (tc TraceContext) Resume(ctx context.Context) context.Context {
	if tc.IsZero() {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
		"traceparent": tc.Parent,
		"tracestate":  tc.State,
	})
}
