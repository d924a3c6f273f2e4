package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan opens a span under the named tracer and returns the usual
// (ctx, span) pair; callers defer span.End().
func (p *Provider) StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// EndWithError records err on span (if non-nil) before the caller's
// deferred span.End() runs — a small helper so every call site doesn't
// repeat the same three lines.
func EndWithError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
