package haloexchange

import "fmt"

// MetricHook captures UpdateHalo telemetry events, mirroring the
// teacher client's dispatcher MetricHook but keyed to exchange and
// buffer-pool activity instead of send/receive completions.
type MetricHook interface {
	ExchangeStarted(attrs map[string]string)
	ExchangeCompleted(attrs map[string]string)
	ExchangeFailed(err error, attrs map[string]string)
	BufferGrown(attrs map[string]string)
	BufferReinterpreted(attrs map[string]string)
}

func (c *Context) metricAttrs(fields ...logField) map[string]string {
	attrs := make(map[string]string, len(fields)+1)
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		attrs[f.key] = fmt.Sprint(f.value)
	}
	return attrs
}

func (c *Context) metricExchangeStarted(fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.ExchangeStarted(c.metricAttrs(fields...))
}

func (c *Context) metricExchangeCompleted(fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.ExchangeCompleted(c.metricAttrs(fields...))
}

func (c *Context) metricExchangeFailed(err error, fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.ExchangeFailed(err, c.metricAttrs(fields...))
}

func (c *Context) metricBufferGrown(fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.BufferGrown(c.metricAttrs(fields...))
}

func (c *Context) metricBufferReinterpreted(fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.BufferReinterpreted(c.metricAttrs(fields...))
}
