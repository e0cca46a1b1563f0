package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// =============================================================================
// TracerConfig Tests
// =============================================================================

func TestDefaultTracerConfig(t *testing.T) {
	t.Run("returns expected defaults", func(t *testing.T) {
		cfg := DefaultTracerConfig()

		assert.False(t, cfg.Enabled)
		assert.Equal(t, "localhost:4317", cfg.Endpoint)
		assert.Equal(t, "bundlecheck", cfg.ServiceName)
		assert.Equal(t, 1.0, cfg.SampleRate)
		assert.True(t, cfg.Insecure)
	})
}

// =============================================================================
// Tracer Tests
// =============================================================================

func TestNewTracer_Disabled(t *testing.T) {
	tracer, err := NewTracer(context.Background(), DefaultTracerConfig(), "dev")
	require.NoError(t, err)

	assert.False(t, tracer.IsEnabled())
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

// =============================================================================
// Span Helper Tests
// =============================================================================

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestStartStepSpan(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartStepSpan(context.Background(), "install", "react")
	SetSpanAttributes(ctx, attribute.String("package.version", "18.2.0"))
	EndSpan(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "bundlecheck.install", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("package.name", "react"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("package.version", "18.2.0"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestEndSpan_RecordsError(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartStepSpan(context.Background(), "bundle", "left-pad")
	EndSpan(span, errors.New("could not resolve"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "could not resolve", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestSetSpanAttributes_NoSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		SetSpanAttributes(context.Background(), attribute.String("k", "v"))
	})
}
