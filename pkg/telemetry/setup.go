package telemetry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Configures OpenTelemetry from the config. Returns a nil provider if no
// exporter is configured, in which case spans are not recorded.
func Setup(ctx context.Context, config Config) (*tracesdk.TracerProvider, error) {
	if !config.Enabled() {
		return nil, nil
	}

	name := config.Package
	if name == "" {
		name = PACKAGE
	}

	res, err := NewResource(name, config.ID)
	if err != nil {
		return nil, err
	}

	exp, err := NewExporter(ctx, config)
	if err != nil {
		return nil, err
	}

	tp := NewTracerProvider(exp, res)
	Install(tp, name)

	return tp, nil
}

// Sets the trace provider as the global trace provider and installs the
// context propagation.
func Install(tp *tracesdk.TracerProvider, name string) {
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(name)
	otel.SetTextMapPropagator(propagation.TraceContext{})
}

// Creates a trace provider - an entity that manages the puts together OTel things,
// i.e. it essentially allows to set a "global logger" for the whole application.
// Under the hood it creates span processors, i.e. hooks that receive all the events
// and write them to the exporters while associating each of them with our service.
func NewTracerProvider(exp tracesdk.SpanExporter, res *resource.Resource) *tracesdk.TracerProvider {
	return tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
	)
}

// Creates the OTLP exporter if configured, the Jaeger one otherwise.
func NewExporter(ctx context.Context, config Config) (tracesdk.SpanExporter, error) {
	if config.OTLP.Host != "" {
		options := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLP.Host)}
		if !config.OTLP.Secure {
			options = append(options, otlptracehttp.WithInsecure())
		}

		exp, err := otlptrace.New(ctx, otlptracehttp.NewClient(options...))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}

		return exp, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	return exp, nil
}

// Creates a new resource to identify the service instance.
func NewResource(name, id string) (*resource.Resource, error) {
	if id == "" {
		random, err := uuid.NewRandom()
		if err != nil {
			return nil, err
		}
		id = random.String()
	}

	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(name),
		attribute.String("ID", id),
	), nil
}
