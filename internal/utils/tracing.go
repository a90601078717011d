package utils

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewTracerProvider installs a global tracer provider that writes every
// finished span to the logger. Call Shutdown on exit.
func NewTracerProvider(service string, logger *logrus.Logger) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(&logExporter{logger: logger}),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// logExporter is a span exporter backed by logrus
type logExporter struct {
	logger *logrus.Logger
}

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := logrus.Fields{
			"span":        span.Name(),
			"trace_id":    span.SpanContext().TraceID().String(),
			"duration_ms": span.EndTime().Sub(span.StartTime()).Milliseconds(),
		}
		for _, kv := range span.Attributes() {
			fields[string(kv.Key)] = kv.Value.AsInterface()
		}

		entry := e.logger.WithFields(fields)
		if status := span.Status(); status.Code == codes.Error {
			entry.WithField("error", status.Description).Warn("Span failed")
			continue
		}
		entry.Debug("Span finished")
	}
	return nil
}

func (e *logExporter) Shutdown(ctx context.Context) error {
	return nil
}
