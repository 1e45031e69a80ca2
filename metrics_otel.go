package haloexchange

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter               metric.Meter
	exchangeStarted     metric.Int64Counter
	exchangeCompleted   metric.Int64Counter
	exchangeFailed      metric.Int64Counter
	bufferGrown         metric.Int64Counter
	bufferReinterpreted metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/latticegrid/haloexchange"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	exchangeStarted, err := meter.Int64Counter("haloexchange.update_halo.started")
	if err != nil {
		return nil, err
	}
	exchangeCompleted, err := meter.Int64Counter("haloexchange.update_halo.completed")
	if err != nil {
		return nil, err
	}
	exchangeFailed, err := meter.Int64Counter("haloexchange.update_halo.failed")
	if err != nil {
		return nil, err
	}
	bufferGrown, err := meter.Int64Counter("haloexchange.buffer_pool.grown")
	if err != nil {
		return nil, err
	}
	bufferReinterpreted, err := meter.Int64Counter("haloexchange.buffer_pool.reinterpreted")
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		meter:               meter,
		exchangeStarted:     exchangeStarted,
		exchangeCompleted:   exchangeCompleted,
		exchangeFailed:      exchangeFailed,
		bufferGrown:         bufferGrown,
		bufferReinterpreted: bufferReinterpreted,
	}, nil
}

func (o *OTelMetrics) ExchangeStarted(attrs map[string]string) {
	o.exchangeStarted.Add(context.Background(), 1, metric.WithAttributes(otelAttrsFromMap(attrs)...))
}

func (o *OTelMetrics) ExchangeCompleted(attrs map[string]string) {
	o.exchangeCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrsFromMap(attrs)...))
}

func (o *OTelMetrics) ExchangeFailed(_ error, attrs map[string]string) {
	o.exchangeFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrsFromMap(attrs)...))
}

func (o *OTelMetrics) BufferGrown(attrs map[string]string) {
	o.bufferGrown.Add(context.Background(), 1, metric.WithAttributes(otelAttrsFromMap(attrs)...))
}

func (o *OTelMetrics) BufferReinterpreted(attrs map[string]string) {
	o.bufferReinterpreted.Add(context.Background(), 1, metric.WithAttributes(otelAttrsFromMap(attrs)...))
}

func otelAttrsFromMap(attrs map[string]string) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	return kvs
}
