package mqttv3

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// PrometheusConfig configures the Prometheus metrics backend.
type PrometheusConfig struct {
	// Namespace is prepended to every metric name. Default: none, the
	// standard names already carry an "mqtt_client" prefix.
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets. Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// PrometheusOption configures the Prometheus metrics backend.
type PrometheusOption func(*PrometheusConfig)

// WithPrometheusNamespace sets the metrics namespace.
func WithPrometheusNamespace(namespace string) PrometheusOption {
	return func(c *PrometheusConfig) {
		c.Namespace = namespace
	}
}

// WithPrometheusConstLabels sets constant labels for all metrics.
func WithPrometheusConstLabels(labels prometheus.Labels) PrometheusOption {
	return func(c *PrometheusConfig) {
		c.ConstLabels = labels
	}
}

// WithPrometheusBuckets sets the histogram buckets.
func WithPrometheusBuckets(buckets []float64) PrometheusOption {
	return func(c *PrometheusConfig) {
		c.Buckets = buckets
	}
}

// WithPrometheusRegistry sets the Prometheus registry.
func WithPrometheusRegistry(registry prometheus.Registerer) PrometheusOption {
	return func(c *PrometheusConfig) {
		c.Registry = registry
	}
}

// PrometheusMetrics implements Metrics on top of a Prometheus registry.
// Each metric name becomes one vector; its label names are fixed by the
// first use of the name.
type PrometheusMetrics struct {
	config  PrometheusConfig
	factory promauto.Factory

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics creates a Prometheus backed Metrics.
func NewPrometheusMetrics(opts ...PrometheusOption) *PrometheusMetrics {
	config := PrometheusConfig{
		Buckets:  prometheus.DefBuckets,
		Registry: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	return &PrometheusMetrics{
		config:     config,
		factory:    promauto.With(config.Registry),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels MetricLabels) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func helpText(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "mqtt_client_"), "_", " ")
}

// Counter returns a counter metric.
func (p *PrometheusMetrics) Counter(name string, labels MetricLabels) Counter {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = p.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Name:        name,
			Help:        helpText(name),
			ConstLabels: p.config.ConstLabels,
		}, labelNames(labels))
		p.counters[name] = vec
	}
	p.mu.Unlock()

	c, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return discard{}
	}
	return &promCounter{c: c}
}

// Gauge returns a gauge metric.
func (p *PrometheusMetrics) Gauge(name string, labels MetricLabels) Gauge {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = p.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Name:        name,
			Help:        helpText(name),
			ConstLabels: p.config.ConstLabels,
		}, labelNames(labels))
		p.gauges[name] = vec
	}
	p.mu.Unlock()

	g, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return discard{}
	}
	return &promGauge{g: g}
}

// Histogram returns a histogram metric.
func (p *PrometheusMetrics) Histogram(name string, labels MetricLabels) Histogram {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = p.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Name:        name,
			Help:        helpText(name),
			ConstLabels: p.config.ConstLabels,
			Buckets:     p.config.Buckets,
		}, labelNames(labels))
		p.histograms[name] = vec
	}
	p.mu.Unlock()

	h, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return discard{}
	}
	return &promHistogram{h: h}
}

type promCounter struct {
	c prometheus.Counter
}

func (c *promCounter) Inc()              { c.c.Inc() }
func (c *promCounter) Add(delta float64) { c.c.Add(delta) }

func (c *promCounter) Value() float64 {
	var m dto.Metric
	if err := c.c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

type promGauge struct {
	g prometheus.Gauge
}

func (g *promGauge) Set(value float64) { g.g.Set(value) }
func (g *promGauge) Inc()              { g.g.Inc() }
func (g *promGauge) Dec()              { g.g.Dec() }
func (g *promGauge) Add(delta float64) { g.g.Add(delta) }
func (g *promGauge) Sub(delta float64) { g.g.Sub(delta) }

func (g *promGauge) Value() float64 {
	var m dto.Metric
	if err := g.g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

type promHistogram struct {
	h prometheus.Observer
}

func (h *promHistogram) Observe(value float64)           { h.h.Observe(value) }
func (h *promHistogram) ObserveDuration(d time.Duration) { h.h.Observe(d.Seconds()) }

func (h *promHistogram) snapshot() *dto.Histogram {
	metric, ok := h.h.(prometheus.Metric)
	if !ok {
		return nil
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return nil
	}
	return m.GetHistogram()
}

func (h *promHistogram) Count() uint64 {
	return h.snapshot().GetSampleCount()
}

func (h *promHistogram) Sum() float64 {
	return h.snapshot().GetSampleSum()
}
