package server

import (
	"context"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/aep/healthdesk/config"
)

const tracerName = "github.com/aep/healthdesk/server"

var tracer trace.Tracer = otel.Tracer(tracerName)

// initTracer exports spans over OTLP/gRPC when an endpoint is configured.
// Without one the global no-op provider stays in place.
func initTracer(ctx context.Context, cfg config.TracingConfig) (shutdown func(context.Context) error, err error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	))
	if err != nil {
		return nil, err
	}

	service := cfg.Service
	if service == "" {
		service = "healthdesk-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = tp.Tracer(tracerName)
	return tp.Shutdown, nil
}

// TracingMiddleware adds OpenTelemetry tracing to Echo requests
func TracingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

		ctx, span := tracer.Start(ctx, req.Method+" "+c.Path(),
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.url", req.URL.String()),
				attribute.String("http.path", c.Path()),
			),
		)
		defer span.End()

		if kind := c.Param("kind"); kind != "" {
			span.SetAttributes(attribute.String("healthdesk.kind", kind))
		}

		c.SetRequest(req.WithContext(ctx))

		err := next(c)

		if err != nil {
			span.SetAttributes(attribute.Bool("error", true))
			span.SetAttributes(attribute.String("error.message", err.Error()))
		}

		span.SetAttributes(attribute.Int("http.status_code", c.Response().Status))

		return err
	}
}
