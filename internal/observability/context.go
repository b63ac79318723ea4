package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// DetachTraceContextFrom returns base carrying the span context of src.
// Dialogue runs started from a tool call use it so their spans link to the
// request while their lifetime follows base.
func DetachTraceContextFrom(src, base context.Context) context.Context {
	sc := trace.SpanContextFromContext(src)
	if !sc.IsValid() {
		return base
	}
	return trace.ContextWithRemoteSpanContext(base, sc)
}
