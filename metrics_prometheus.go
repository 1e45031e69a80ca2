package haloexchange

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	exchangeStarted     *prometheus.CounterVec
	exchangeCompleted   *prometheus.CounterVec
	exchangeFailed      *prometheus.CounterVec
	bufferGrown         *prometheus.CounterVec
	bufferReinterpreted *prometheus.CounterVec
}

var (
	exchangeLabelKeys = []string{"ndims", "field_count"}
	failedLabelKeys   = []string{"ndims", "field_count"}
	bufferLabelKeys   = []string{"residency"}
)

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PrometheusMetrics{
		exchangeStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "haloexchange_update_halo_started_total",
			Help:        "Number of UpdateHalo calls started",
			ConstLabels: opts.ConstLabels,
		}, exchangeLabelKeys),
		exchangeCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "haloexchange_update_halo_completed_total",
			Help:        "Number of UpdateHalo calls that completed without error",
			ConstLabels: opts.ConstLabels,
		}, exchangeLabelKeys),
		exchangeFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "haloexchange_update_halo_failed_total",
			Help:        "Number of UpdateHalo calls that returned an error",
			ConstLabels: opts.ConstLabels,
		}, failedLabelKeys),
		bufferGrown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "haloexchange_buffer_pool_grown_total",
			Help:        "Number of times a buffer-pool slot grew",
			ConstLabels: opts.ConstLabels,
		}, bufferLabelKeys),
		bufferReinterpreted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "haloexchange_buffer_pool_reinterpreted_total",
			Help:        "Number of times a buffer-pool slot was reinterpreted at a different element type",
			ConstLabels: opts.ConstLabels,
		}, bufferLabelKeys),
	}

	var err error
	if p.exchangeStarted, err = registerCounterVec(reg, p.exchangeStarted); err != nil {
		return nil, err
	}
	if p.exchangeCompleted, err = registerCounterVec(reg, p.exchangeCompleted); err != nil {
		return nil, err
	}
	if p.exchangeFailed, err = registerCounterVec(reg, p.exchangeFailed); err != nil {
		return nil, err
	}
	if p.bufferGrown, err = registerCounterVec(reg, p.bufferGrown); err != nil {
		return nil, err
	}
	if p.bufferReinterpreted, err = registerCounterVec(reg, p.bufferReinterpreted); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PrometheusMetrics) ExchangeStarted(attrs map[string]string) {
	p.exchangeStarted.With(labels(attrs, exchangeLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) ExchangeCompleted(attrs map[string]string) {
	p.exchangeCompleted.With(labels(attrs, exchangeLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) ExchangeFailed(_ error, attrs map[string]string) {
	p.exchangeFailed.With(labels(attrs, failedLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) BufferGrown(attrs map[string]string) {
	p.bufferGrown.With(labels(attrs, bufferLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) BufferReinterpreted(attrs map[string]string) {
	p.bufferReinterpreted.With(labels(attrs, bufferLabelKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
