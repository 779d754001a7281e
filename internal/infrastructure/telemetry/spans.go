package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "go-upload-notifier"

// StartBroadcastSpan starts a span for one notification broadcast.
func StartBroadcastSpan(ctx context.Context, container, key string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "broadcast",
		trace.WithAttributes(
			attribute.String("upload.container", container),
			attribute.String("upload.key", key),
		),
	)
}

// StartResizeSpan starts a span for one thumbnail derivation.
func StartResizeSpan(ctx context.Context, container, key string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "resize",
		trace.WithAttributes(
			attribute.String("upload.container", container),
			attribute.String("upload.key", key),
		),
	)
}
