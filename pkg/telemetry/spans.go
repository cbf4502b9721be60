package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "proposer"

// StartRunSpan starts a span covering a whole run.
func StartRunSpan(ctx context.Context, runID string, maxSends int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.max_sends", maxSends),
		),
	)
}

// StartSendSpan starts a span for a single send attempt within a run.
func StartSendSpan(ctx context.Context, runID string, attempt, templateID int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "send",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("send.attempt", attempt),
			attribute.Int("template.id", templateID),
		),
	)
}
