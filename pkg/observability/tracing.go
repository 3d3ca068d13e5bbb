// Package observability wraps the job stages in OpenTelemetry spans.
package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ajitpratap0/xetra/pkg/errors"
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
	ExporterType   string // "stdout" or "none"
	// Writer receives stdout exporter output; os.Stdout when nil
	Writer io.Writer
}

// Tracer starts spans for the job stages. The zero value is not usable;
// a disabled Tracer hands out non-recording spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer from config. Tracing that is disabled, or whose
// exporter is "none", costs nothing.
func NewTracer(ctx context.Context, config TracingConfig) (*Tracer, error) {
	name := config.ServiceName
	if name == "" {
		name = "xetra"
	}
	exporterType := strings.ToLower(strings.TrimSpace(config.ExporterType))
	if !config.Enabled || exporterType == "none" {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(name)}, nil
	}

	var exporter sdktrace.SpanExporter
	switch exporterType {
	case "", "stdout":
		w := config.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create stdout exporter")
		}
		exporter = exp
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported trace exporter %q", config.ExporterType)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create resource")
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(time.Second)),
	)
	return &Tracer{provider: tp, tracer: tp.Tracer(name)}, nil
}

// Start begins a span.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Trace runs fn inside a span named after the stage and records its error.
func (t *Tracer) Trace(ctx context.Context, stage string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := t.Start(ctx, stage, attrs...)
	defer span.End()

	err := fn(ctx)
	EndStatus(span, err)
	return err
}

// EndStatus marks span as failed with err, or as ok when err is nil.
func EndStatus(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.type", string(errors.TypeOf(err))))
		return
	}
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// NoopTracer returns a tracer whose spans record nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("xetra")}
}
