package haloexchange

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TraceAttribute is a tracing attribute attached to exchange spans.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans wrapping one UpdateHalo call.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...TraceAttribute) Span
}

// Span records an exchange's lifecycle, events, and errors.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// OTelTracer implements Tracer using an OpenTelemetry tracer.
type OTelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTelTracer constructs a Tracer from an OpenTelemetry TracerProvider,
// or the global provider when provider is nil.
func NewOTelTracer(provider oteltrace.TracerProvider, instrumentationName string) *OTelTracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	if instrumentationName == "" {
		instrumentationName = "github.com/latticegrid/haloexchange"
	}
	return &OTelTracer{tracer: provider.Tracer(instrumentationName)}
}

func (t *OTelTracer) StartSpan(ctx context.Context, name string, attrs ...TraceAttribute) Span {
	if t == nil || t.tracer == nil {
		return nil
	}
	_, span := t.tracer.Start(ctx, name, oteltrace.WithAttributes(otelAttributesFromTrace(attrs)...))
	return &otelSpan{span: span}
}

type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) End(err error) {
	if s == nil || s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.End()
}

func (s *otelSpan) AddEvent(name string, attrs ...TraceAttribute) {
	if s == nil || s.span == nil {
		return
	}
	s.span.AddEvent(name, oteltrace.WithAttributes(otelAttributesFromTrace(attrs)...))
}

func (s *otelSpan) RecordError(err error) {
	if s == nil || s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
}

func otelAttributesFromTrace(attrs []TraceAttribute) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			kvs = append(kvs, attribute.String(a.Key, v))
		case int:
			kvs = append(kvs, attribute.Int(a.Key, v))
		case bool:
			kvs = append(kvs, attribute.Bool(a.Key, v))
		default:
			kvs = append(kvs, attribute.String(a.Key, fmt.Sprint(v)))
		}
	}
	return kvs
}

func spanAddEvent(span Span, name string, fields ...logField) {
	if span == nil {
		return
	}
	span.AddEvent(name, traceAttrsFromFields(fields...)...)
}

func spanRecordError(span Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

func traceAttrsFromFields(fields ...logField) []TraceAttribute {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]TraceAttribute, 0, len(fields))
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		attrs = append(attrs, TraceAttribute{Key: f.key, Value: f.value})
	}
	return attrs
}
