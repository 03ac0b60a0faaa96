package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"reservoir/pkg/config"
)

// recordSpans делает глобальным provider с записью спанов в память
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	p := setGlobal(tp, "test")
	t.Cleanup(func() {
		_ = p.Shutdown(context.Background())
		globalMu.Lock()
		globalProvider = nil
		globalMu.Unlock()
	})
	return rec
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(
		config.TracingConfig{Enabled: true, Endpoint: "otel:4317", SampleRate: 0.5},
		config.AppConfig{Name: "simctl", Version: "1.2.3", Environment: "test"},
	)
	assert.Equal(t, Config{
		Enabled:     true,
		Endpoint:    "otel:4317",
		ServiceName: "simctl",
		Version:     "1.2.3",
		Environment: "test",
		SampleRate:  0.5,
	}, cfg)

	cfg = ConfigFrom(config.TracingConfig{ServiceName: "tracer"}, config.AppConfig{Name: "simctl"})
	assert.Equal(t, "tracer", cfg.ServiceName)
}

func TestInit_Disabled(t *testing.T) {
	provider, err := Init(context.Background(), Config{ServiceName: "simctl"})
	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestGet_Uninitialized(t *testing.T) {
	globalMu.Lock()
	globalProvider = nil
	globalMu.Unlock()

	_, span := StartSpan(context.Background(), "deck.parse")
	defer span.End()
	assert.NotNil(t, Get().Tracer())
	assert.False(t, span.SpanContext().IsValid(), "noop tracer before Init")
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(1).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(2).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), samplerFor(0).Description())
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestTraced(t *testing.T) {
	rec := recordSpans(t)

	err := Traced(context.Background(), "job.run", func(ctx context.Context) error {
		return nil
	}, WithAttributes(JobAttributes("job-1", "opm")...))
	require.NoError(t, err)

	boom := errors.New("flow exited with status 1")
	err = Traced(context.Background(), "job.parse", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "job.run", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String(AttrBackend, "opm"))

	assert.Equal(t, "job.parse", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, boom.Error(), spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}

func TestJobAttributes(t *testing.T) {
	assert.ElementsMatch(t, []attribute.KeyValue{
		attribute.String(AttrJobID, "job-1"),
		attribute.String(AttrBackend, "opm"),
	}, JobAttributes("job-1", "opm"))
}

func TestGridAttributes(t *testing.T) {
	attrs := GridAttributes(10, 10, 3, 2, 120)
	require.Len(t, attrs, 6)
	assert.Contains(t, attrs, attribute.Int(AttrGridCells, 300))
}

func TestDeckAndCompareAttributes(t *testing.T) {
	assert.Len(t, DeckAttributes(12, 1, 2), 3)
	assert.Len(t, CompareAttributes("good", 0.02, 10, true), 4)
}
