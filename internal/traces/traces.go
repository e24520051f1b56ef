// Package traces configures OpenTelemetry tracing.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mbd888/securebank"

// Init installs an OTLP/gRPC tracer provider. With an empty endpoint tracing
// stays disabled and the returned shutdown is a no-op.
func Init(ctx context.Context, endpoint string, logger *slog.Logger) (func(context.Context) error, error) {
	if endpoint == "" {
		logger.Info("tracing disabled (OTEL_EXPORTER_OTLP_ENDPOINT not set)")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("securebank"),
		semconv.ServiceVersion("0.1.0"),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", endpoint)
	return tp.Shutdown, nil
}

// StartSpan starts a span named name with optional attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// Fail records err on span and marks it as errored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func AccountID(id string) attribute.KeyValue  { return attribute.String("account.id", id) }
func DeviceID(id string) attribute.KeyValue   { return attribute.String("device.id", id) }
func TransferID(id string) attribute.KeyValue { return attribute.String("transfer.id", id) }
func Amount(a string) attribute.KeyValue      { return attribute.String("amount", a) }
func RiskScore(s float64) attribute.KeyValue  { return attribute.Float64("risk.score", s) }
func Purpose(p string) attribute.KeyValue     { return attribute.String("risk.purpose", p) }
