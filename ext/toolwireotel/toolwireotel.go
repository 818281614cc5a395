// Package toolwireotel records an OpenTelemetry span for every tool execution attempt.
package toolwireotel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skosovsky/toolwire"
)

// ScopeName is the instrumentation scope used when no tracer is given.
const ScopeName = "github.com/skosovsky/toolwire/ext/toolwireotel"

// Attribute keys set on tool spans.
const (
	AttrToolName       = attribute.Key("tool.name")
	AttrCallID         = attribute.Key("tool.call_id")
	AttrErrorKind      = attribute.Key("tool.error.kind")
	AttrItemsSucceeded = attribute.Key("tool.items.succeeded")
	AttrItemsFailed    = attribute.Key("tool.items.failed")
)

// WithTracing returns a middleware that wraps each attempt in a span named "tool.<name>".
// A nil tracer uses the global provider. Returned errors and failures set the span status
// to Error; a partial result records its item counts.
func WithTracing(tracer trace.Tracer) toolwire.Middleware {
	if tracer == nil {
		tracer = otel.Tracer(ScopeName)
	}
	return func(next toolwire.Handler) toolwire.Handler {
		return toolwire.HandlerFunc(func(ctx context.Context, call toolwire.ValidatedCall) (toolwire.Outcome, error) {
			ctx, span := tracer.Start(ctx, "tool."+call.ToolName,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(AttrToolName.String(call.ToolName), AttrCallID.String(call.ID)),
			)
			defer span.End()

			out, err := next.Execute(ctx, call)
			switch {
			case err != nil:
				ee := toolwire.Classify(err)
				span.RecordError(err)
				span.SetAttributes(AttrErrorKind.String(string(ee.Kind)))
				span.SetStatus(codes.Error, ee.Message)
			case out.Failure != nil:
				span.SetAttributes(AttrErrorKind.String(string(out.Failure.Kind)))
				span.SetStatus(codes.Error, out.Failure.Message)
			case out.Partial != nil:
				span.SetAttributes(
					AttrItemsSucceeded.Int(out.Partial.SuccessCount),
					AttrItemsFailed.Int(len(out.Partial.PerItemErrors)),
				)
				if len(out.Partial.PerItemErrors) > 0 {
					span.SetStatus(codes.Error, "some operations failed")
				} else {
					span.SetStatus(codes.Ok, "")
				}
			default:
				span.SetStatus(codes.Ok, "")
			}
			return out, err
		})
	}
}
