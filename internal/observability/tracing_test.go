package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracerProviderWithoutEndpointIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{Exporter: "otlp"})
	require.NoError(t, err)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	_, span := tp.StartSpan(ctx, SpanAcquisition)
	span.End()
	assert.False(t, span.SpanContext().IsSampled())
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTracerProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracerProvider(TracingConfig{Exporter: "jaeger", Endpoint: "localhost:14268"})
	assert.ErrorContains(t, err, "unsupported exporter")
}

func TestNilTracerProviderIsSafe(t *testing.T) {
	var tp *TracerProvider
	_, span := tp.StartSpan(context.Background(), SpanFusion)
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))
}
