package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every sarvis span.
const tracerName = "github.com/MrWong99/sarvis"

// Attribute keys shared by the voice command spans.
const (
	RequestIDKey = attribute.Key("sarvis.request_id")
	SpeakerIDKey = attribute.Key("sarvis.speaker_id")
	OutcomeKey   = attribute.Key("sarvis.outcome")
)

// StartSpan starts a span on the global TracerProvider. The caller must end
// it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartCommandSpan starts the span covering one finalized command, from
// transcription to the parsed result. The parse fallback runs as its child.
func StartCommandSpan(ctx context.Context, requestID, speakerID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "pipeline.command", trace.WithAttributes(
		RequestIDKey.String(requestID),
		SpeakerIDKey.String(speakerID),
	))
}

// CorrelationID is the hex trace id of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id of the span in
// ctx, so command logs can be joined with exported traces. Without a span it
// is [slog.Default].
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
