// Package telemetry настраивает трассировку OpenTelemetry для разбора колод,
// запусков бэкендов и сравнений. Без tracing.enabled спаны не экспортируются.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"reservoir/pkg/config"
)

// DefaultTracerName имя tracer до инициализации
const DefaultTracerName = "reservoir"

// Config конфигурация телеметрии
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Version     string
	Environment string
	SampleRate  float64
}

// ConfigFrom собирает Config из секций tracing и app
func ConfigFrom(tracing config.TracingConfig, app config.AppConfig) Config {
	name := tracing.ServiceName
	if name == "" {
		name = app.Name
	}
	return Config{
		Enabled:     tracing.Enabled,
		Endpoint:    tracing.Endpoint,
		ServiceName: name,
		Version:     app.Version,
		Environment: app.Environment,
		SampleRate:  tracing.SampleRate,
	}
}

// Provider держит TracerProvider процесса; tp == nil для выключенной трассировки
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

var (
	globalMu       sync.RWMutex
	globalProvider *Provider
)

// Init поднимает OTLP/gRPC экспорт и делает provider глобальным.
// При выключенной трассировке возвращает provider над noop tracer.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(), // коллектор обычно рядом с процессом
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return setGlobal(tp, cfg.ServiceName), nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
}

// samplerFor: rate >= 1 пишет всё, rate <= 0 ничего
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func setGlobal(tp *sdktrace.TracerProvider, name string) *Provider {
	p := &Provider{tp: tp, tracer: tp.Tracer(name)}
	globalMu.Lock()
	globalProvider = p
	globalMu.Unlock()
	return p
}

// Shutdown сбрасывает накопленные спаны и останавливает экспорт
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// Tracer возвращает tracer
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Get возвращает глобальный provider
func Get() *Provider {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalProvider == nil {
		return &Provider{tracer: otel.Tracer(DefaultTracerName)}
	}
	return globalProvider
}
