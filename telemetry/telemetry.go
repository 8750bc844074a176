// Package telemetry exposes the OpenTelemetry tracer used around watcher
// ticks, branch analysis, merge plans and applies.
//
// Without Setup every span is a no-op. Setup installs an SDK tracer
// provider that exports finished spans as JSON to a writer.
package telemetry

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName identifies spans from this module.
const ServiceName = "overseer-git"

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}

// Start begins a span with the given attributes.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Options configures Setup.
type Options struct {
	// Pretty indents exported spans.
	Pretty bool
	// Sync exports each span as it ends instead of batching.
	Sync bool
}

// Setup installs a global tracer provider exporting to w. The returned
// shutdown func flushes pending spans and restores nothing else.
func Setup(ctx context.Context, w io.Writer, opts Options) (func(context.Context) error, error) {
	if w == nil {
		return nil, errors.New("telemetry: nil writer")
	}
	exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if opts.Pretty {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))

	var processor sdktrace.TracerProviderOption
	if opts.Sync {
		processor = sdktrace.WithSyncer(exporter)
	} else {
		processor = sdktrace.WithBatcher(exporter)
	}
	tp := sdktrace.NewTracerProvider(processor, sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
