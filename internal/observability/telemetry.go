package observability

import (
	"context"
	"time"

	"github.com/annel0/worldstore/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// TelemetryOptions параметры трассировки хранилища мира
type TelemetryOptions struct {
	ServiceName string
	WorldID     string
	WorldName   string
	// SampleRatio доля корневых спанов (regions.Flush), попадающих в экспорт
	SampleRatio float64
}

// worldResource атрибуты процесса: сервис и мир, которому принадлежат спаны
func worldResource(ctx context.Context, opts TelemetryOptions) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			attribute.String("world.id", opts.WorldID),
			attribute.String("world.name", opts.WorldName),
		),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
}

// InitTelemetry настраивает OTLP экспортер (по умолчанию localhost:4318)
// и устанавливает глобальный TracerProvider.
// Возвращает функцию shutdown, которая выгружает оставшиеся спаны.
func InitTelemetry(ctx context.Context, opts TelemetryOptions) (func(context.Context) error, error) {
	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	res, err := worldResource(ctx, opts)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(opts.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	logging.Info("📡 OpenTelemetry инициализирован: service=%s, мир %s (%s), sample=%.2f",
		opts.ServiceName, opts.WorldName, opts.WorldID, opts.SampleRatio)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}
