// Package telemetry provides the ambient metrics and tracing surface shared
// by every component: a lazily-declared Prometheus metrics registry and an
// OpenTelemetry tracer for per-cycle spans.
package telemetry

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricDefinition describes one named metric a module intends to emit.
// Declaring metrics up front (via DeclareMetrics) gives them proper Help
// text and histogram buckets; a metric emitted without a prior declaration
// is declared on first use, with its name as Help text and the label keys of
// that first call. Every call for a name must pass the label keys it was
// declared with, or the underlying Prometheus vector panics.
type MetricDefinition struct {
	Name    string
	Type    string // "counter", "gauge", "histogram"
	Help    string
	Labels  []string
	Unit    string
	Buckets []float64
}

// ModuleConfig groups the metrics owned by one module.
type ModuleConfig struct {
	Metrics []MetricDefinition
}

// Registry is a lazily-populated set of Prometheus vectors keyed by metric
// name. A single process-wide instance backs the package-level helpers
// (Counter, Gauge, Histogram, Emit); tests may construct their own via
// NewRegistry to avoid collisions with the global one.
type Registry struct {
	mu         sync.Mutex
	prom       *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	defs       map[string]MetricDefinition
}

func NewRegistry() *Registry {
	return &Registry{
		prom:       prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		defs:       make(map[string]MetricDefinition),
	}
}

var global = NewRegistry()

// GetRegistry returns the process-wide registry the package-level helpers
// record into.
func GetRegistry() *Registry {
	return global
}

// Prometheus exposes the underlying prometheus.Registry, e.g. to mount a
// /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// DeclareMetrics registers a module's metric definitions against the global
// registry. Safe to call from an init() the way the teacher's resilience
// package does; repeated declarations of the same name are no-ops.
func DeclareMetrics(module string, cfg ModuleConfig) {
	for _, d := range cfg.Metrics {
		global.declare(d)
	}
}

func sanitize(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func (r *Registry) declare(d MetricDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declareLocked(d)
}

func (r *Registry) declareLocked(d MetricDefinition) {
	if _, exists := r.defs[d.Name]; exists {
		return
	}
	r.defs[d.Name] = d
	metricName := sanitize(d.Name)
	switch d.Type {
	case "gauge":
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: metricName, Help: d.Help}, d.Labels)
		r.gauges[d.Name] = v
		r.prom.MustRegister(v)
	case "histogram":
		buckets := d.Buckets
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: metricName, Help: d.Help, Buckets: buckets}, d.Labels)
		r.histograms[d.Name] = v
		r.prom.MustRegister(v)
	default:
		v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: metricName, Help: d.Help}, d.Labels)
		r.counters[d.Name] = v
		r.prom.MustRegister(v)
	}
}

func labelPairs(pairs []string) (keys []string, values prometheus.Labels) {
	values = prometheus.Labels{}
	for i := 0; i+1 < len(pairs); i += 2 {
		keys = append(keys, pairs[i])
		values[pairs[i]] = pairs[i+1]
	}
	return keys, values
}

func (r *Registry) ensureCounter(name string, keys []string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.counters[name]; ok {
		return v
	}
	r.declareLocked(MetricDefinition{Name: name, Type: "counter", Help: name, Labels: keys})
	return r.counters[name]
}

func (r *Registry) ensureGauge(name string, keys []string) *prometheus.GaugeVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.gauges[name]; ok {
		return v
	}
	r.declareLocked(MetricDefinition{Name: name, Type: "gauge", Help: name, Labels: keys})
	return r.gauges[name]
}

func (r *Registry) ensureHistogram(name string, keys []string) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.histograms[name]; ok {
		return v
	}
	r.declareLocked(MetricDefinition{Name: name, Type: "histogram", Help: name, Labels: keys})
	return r.histograms[name]
}

// Counter increments a counter by 1, declaring it on first use. pairs are
// flattened label key/value arguments, e.g. Counter("x", "k1", "v1").
func Counter(name string, pairs ...string) {
	keys, values := labelPairs(pairs)
	global.ensureCounter(name, keys).With(values).Inc()
}

// Gauge sets a gauge's current value, declaring it on first use.
func Gauge(name string, value float64, pairs ...string) {
	keys, values := labelPairs(pairs)
	global.ensureGauge(name, keys).With(values).Set(value)
}

// Histogram records one observation, declaring it on first use.
func Histogram(name string, value float64, pairs ...string) {
	keys, values := labelPairs(pairs)
	global.ensureHistogram(name, keys).With(values).Observe(value)
}

// Emit is an alias for Counter with an explicit delta, matching the
// teacher's call sites that emit an arbitrary magnitude rather than always
// incrementing by one.
func Emit(name string, delta float64, pairs ...string) {
	keys, values := labelPairs(pairs)
	global.ensureCounter(name, keys).With(values).Add(delta)
}

