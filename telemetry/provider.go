// Package telemetry configures OpenTelemetry tracing and instruments outgoing
// HTTP requests.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/mccutchen/hrefresolver/telemetry"

// Supported exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config configures tracing.
type Config struct {
	Exporter    string  `yaml:"exporter" env:"TELEMETRY_EXPORTER" default:"none" validate:"oneof=none stdout otlp"`
	Endpoint    string  `yaml:"endpoint" env:"OTLP_ENDPOINT" validate:"required_if=Exporter otlp"`
	Insecure    bool    `yaml:"insecure" env:"OTLP_INSECURE"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME" default:"hrefresolver"`
	SampleRate  float64 `yaml:"sample_rate" env:"SAMPLE_RATE" default:"1" validate:"gte=0,lte=1"`

	// Writer receives spans from the stdout exporter. Defaults to stderr, so
	// that it never mixes with command output.
	Writer io.Writer `yaml:"-"`
}

// ShutdownFunc flushes and stops a tracer provider.
type ShutdownFunc func(context.Context) error

// Init builds a tracer provider according to cfg and installs it, along with
// the W3C trace context propagator, as the global provider.
func Init(ctx context.Context, cfg Config, logger zerolog.Logger) (trace.TracerProvider, ShutdownFunc, error) {
	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case ExporterNone, "":
		logger.Info().Msg("tracing disabled, set telemetry.exporter to capture traces")
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		exporter = exp
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, nil, fmt.Errorf("telemetry: unknown exporter %q", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "hrefresolver"
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info().
		Str("exporter", cfg.Exporter).
		Str("service", serviceName).
		Float64("sample_rate", cfg.SampleRate).
		Msg("tracing enabled")
	return tp, tp.Shutdown, nil
}
