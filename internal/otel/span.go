// Package otel provides OpenTelemetry span helpers shared by the sync engine packages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on spans across the engine.
const (
	AttrDeviceID      = attribute.Key("device.id")
	AttrDeviceAddress = attribute.Key("device.address")
	AttrSyncType      = attribute.Key("sync.type")
	AttrSyncOutcome   = attribute.Key("sync.outcome")
	AttrCommand       = attribute.Key("command.name")
	AttrRequestID     = attribute.Key("command.request_id")
	AttrResultCount   = attribute.Key("result.count")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns the
// span already in ctx (a no-op span when there is none).
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span failed.
// The status description stays generic; details live in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
