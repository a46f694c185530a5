package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracerProvider(t *testing.T) (*tracetest.InMemoryExporter, trace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp
}

func TestStartSpan_NilTracer(t *testing.T) {
	t.Parallel()

	ctx, span := StartSpan(context.Background(), nil, "sync.Run")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	assert.False(t, span.SpanContext().IsValid())
	assert.NotPanics(t, func() { span.End() })
}

func TestStartSpan_RecordsAttributes(t *testing.T) {
	t.Parallel()

	exporter, tp := newTestTracerProvider(t)

	_, span := StartSpan(context.Background(), tp.Tracer("test"), "terminal.Probe",
		trace.WithAttributes(AttrDeviceID.String("door-1"), AttrDeviceAddress.String("10.0.0.5:4370")),
	)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "terminal.Probe", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, AttrDeviceID.String("door-1"))
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	exporter, tp := newTestTracerProvider(t)

	_, span := StartSpan(context.Background(), tp.Tracer("test"), "sync.Run")
	RecordError(span, errors.New("connection refused"))
	RecordError(span, nil)
	RecordError(nil, errors.New("ignored"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "operation failed", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}
