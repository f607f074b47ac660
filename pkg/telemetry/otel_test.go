package telemetry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansRecordErrors(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := StartSpan(context.Background(), "ecmcheck.event", attribute.Int("event", 1))
	EndSpan(ok, nil)
	_, bad := StartSpan(context.Background(), "ecmcheck.close")
	EndSpan(bad, fmt.Errorf("disk full"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "ecmcheck.event", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "disk full", spans[1].Status().Description)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), Sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), Sampler(0).Description())
	assert.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestDefaultOTLPConfig(t *testing.T) {
	cfg := DefaultOTLPConfig("ecmcheck")
	assert.Equal(t, "ecmcheck", cfg.ServiceName)
	assert.True(t, cfg.InsecureTLS)
	assert.Equal(t, 1.0, cfg.SamplingRatio)
}
