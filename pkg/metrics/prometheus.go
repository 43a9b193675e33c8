package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type kind int

const (
	kindCounter kind = iota
	kindHistogram
	kindGauge
)

type definition struct {
	name    string
	kind    kind
	metric  string
	help    string
	labels  []string
	buckets []float64
}

var definitions = []definition{
	{StoreBackendActive, kindGauge, "store_backend_active", "1 when the backend currently serves the store, 0 otherwise", []string{"store", "backend"}, nil},
	{StoreBackendSwitch, kindCounter, "store_backend_switches_total", "Backend switch events", []string{"store", "from", "to"}, nil},
	{StorePrimaryFailure, kindCounter, "store_primary_failures_total", "Failed operations against the primary backend", []string{"store", "op"}, nil},
	{StoreFallbackDuration, kindHistogram, "store_fallback_duration_seconds", "How long the fallback backend stayed active", []string{"store"}, prometheus.ExponentialBuckets(1, 2, 16)},
	{StoreOperationDuration, kindHistogram, "store_operation_duration_seconds", "Duration of store operations", []string{"store", "op", "backend"}, prometheus.ExponentialBuckets(0.0001, 2, 16)},
	{RateLimitCheck, kindCounter, "checks_total", "Rate-limit checks by outcome", []string{"module", "result"}, nil},
	{RateLimitBlock, kindCounter, "blocks_total", "Rate-limit blocks by type", []string{"module", "block_type"}, nil},
	{RateLimitUnknownModule, kindCounter, "unknown_module_total", "Checks against modules without a registered policy", []string{"module"}, nil},
	{RateLimitLatency, kindHistogram, "check_duration_seconds", "Latency of rate-limit checks", []string{"module"}, prometheus.ExponentialBuckets(0.0001, 2, 16)},
}

// PrometheusRecorder maps Recorder calls onto pre-registered Prometheus vectors.
// Names it does not know are dropped.
type PrometheusRecorder struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	labels     map[string][]string
}

// NewPrometheusRecorder registers every known metric under namespace in a
// fresh registry.
func NewPrometheusRecorder(namespace string) (*PrometheusRecorder, error) {
	p := &PrometheusRecorder{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		labels:     make(map[string][]string),
	}

	for _, d := range definitions {
		var c prometheus.Collector
		switch d.kind {
		case kindCounter:
			vec := prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      d.metric,
				Help:      d.help,
			}, d.labels)
			p.counters[d.name] = vec
			c = vec
		case kindHistogram:
			vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      d.metric,
				Help:      d.help,
				Buckets:   d.buckets,
			}, d.labels)
			p.histograms[d.name] = vec
			c = vec
		case kindGauge:
			vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      d.metric,
				Help:      d.help,
			}, d.labels)
			p.gauges[d.name] = vec
			c = vec
		}
		if err := p.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register %s: %w", d.name, err)
		}
		p.labels[d.name] = d.labels
	}

	return p, nil
}

func (p *PrometheusRecorder) Add(name string, value float64, tags map[string]string) {
	if vec, ok := p.counters[name]; ok {
		vec.With(p.labelsFor(name, tags)).Add(value)
	}
}

func (p *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	if vec, ok := p.histograms[name]; ok {
		vec.With(p.labelsFor(name, tags)).Observe(value)
	}
}

func (p *PrometheusRecorder) Set(name string, value float64, tags map[string]string) {
	if vec, ok := p.gauges[name]; ok {
		vec.With(p.labelsFor(name, tags)).Set(value)
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// labelsFor keeps only the declared labels so a stray tag never panics With.
func (p *PrometheusRecorder) labelsFor(name string, tags map[string]string) prometheus.Labels {
	declared := p.labels[name]
	out := make(prometheus.Labels, len(declared))
	for _, l := range declared {
		out[l] = tags[l]
	}
	return out
}
