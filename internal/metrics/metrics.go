// Package metrics implements the Counter/Gauge/Timer/Histogram primitives of
// spec.md §4.8 as thin wrappers around prometheus/client_golang, grounded in
// the teacher's observability/metrics.go promauto registration style.
// Threshold crossings publish an alert event through the Event Bus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/itskum47/smsgateway/internal/events"
)

// Buckets is the bucket table spec.md §4.8 names for timers/histograms, in
// milliseconds, converted to seconds for prometheus.
var Buckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.500, 1.0, 5.0, 10.0,
}

// Thresholds carries the optional (info, warn, critical) tuple for a metric.
type Thresholds struct {
	Info, Warn, Critical float64
	Enabled               bool
}

// Registry owns the prometheus registerer and emits threshold alerts onto
// the Event Bus.
type Registry struct {
	reg *prometheus.Registry
	bus *events.Bus

	mu         sync.Mutex
	thresholds map[string]Thresholds
}

func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{
		reg:        prometheus.NewRegistry(),
		bus:        bus,
		thresholds: make(map[string]Thresholds),
	}
}

// Prometheus exposes the underlying registerer, e.g. for promhttp.HandlerFor.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }

// Counter is a monotonic counter metric.
type Counter struct {
	vec  *prometheus.CounterVec
	name string
	r    *Registry
}

func (r *Registry) NewCounter(name, help string, labels ...string) *Counter {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	r.reg.MustRegister(vec)
	return &Counter{vec: vec, name: name, r: r}
}

func (c *Counter) Inc(labelValues ...string) {
	c.vec.WithLabelValues(labelValues...).Inc()
}

// Gauge is a latest-value metric, with optional alert thresholds.
type Gauge struct {
	vec  *prometheus.GaugeVec
	name string
	r    *Registry
}

func (r *Registry) NewGauge(name, help string, labels ...string) *Gauge {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	r.reg.MustRegister(vec)
	return &Gauge{vec: vec, name: name, r: r}
}

func (g *Gauge) Set(v float64, labelValues ...string) {
	g.vec.WithLabelValues(labelValues...).Set(v)
	g.r.checkThreshold(g.name, v)
}

// WithThresholds registers an (info, warn, critical) tuple for this metric name.
func (r *Registry) WithThresholds(name string, t Thresholds) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Enabled = true
	r.thresholds[name] = t
}

func (r *Registry) checkThreshold(name string, value float64) {
	r.mu.Lock()
	t, ok := r.thresholds[name]
	r.mu.Unlock()
	if !ok || !t.Enabled {
		return
	}

	level := ""
	switch {
	case t.Critical > 0 && value >= t.Critical:
		level = "critical"
	case t.Warn > 0 && value >= t.Warn:
		level = "warn"
	case t.Info > 0 && value >= t.Info:
		level = "info"
	default:
		return
	}

	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{
		Header:  events.Header{Kind: events.KindAlert, Source: "metrics"},
		Payload: events.AlertPayload{Metric: name, Level: level, Value: value},
	})
}

// Timer records durations via a bucketed histogram: Prometheus keeps the
// count, the sum and the per-bucket counts, from which percentiles can be
// estimated. Minimum and maximum are not recorded.
type Timer struct {
	hist *prometheus.HistogramVec
}

func (r *Registry) NewTimer(name, help string, labels ...string) *Timer {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: Buckets,
	}, labels)
	r.reg.MustRegister(hist)
	return &Timer{hist: hist}
}

func (t *Timer) ObserveSeconds(seconds float64, labelValues ...string) {
	t.hist.WithLabelValues(labelValues...).Observe(seconds)
}

// Histogram is the same underlying bucket table as Timer, used for
// non-duration distributions (e.g. queue depth snapshots).
type Histogram = Timer

func (r *Registry) NewHistogram(name, help string, labels ...string) *Histogram {
	return r.NewTimer(name, help, labels...)
}
