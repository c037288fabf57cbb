// Package metrics exposes worker loop metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "timeline_summary"

// Iteration outcomes
const (
	OutcomeSuccess     = "success"
	OutcomePlaceholder = "placeholder"
	OutcomeIdle        = "idle"
	OutcomeFailure     = "failure"
)

// Collector records summarization loop activity on its own registry.
type Collector struct {
	registry *prometheus.Registry

	iterations  *prometheus.CounterVec
	generation  *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// DefaultBuckets spans quick local models through slow remote ones (seconds).
var DefaultBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800}

// New creates a Collector with a fresh registry, including Go runtime metrics.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iterations_total",
				Help:      "Worker loop iterations by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		generation: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_seconds",
				Help:      "Generation backend latency in seconds",
				Buckets:   DefaultBuckets,
			},
			[]string{"model"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last persisted summary per model",
			},
			[]string{"model"},
		),
	}

	registry.MustRegister(
		c.iterations,
		c.generation,
		c.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Iteration counts one loop iteration
func (c *Collector) Iteration(model, outcome string) {
	if c == nil {
		return
	}
	c.iterations.WithLabelValues(model, outcome).Inc()
}

// Generation observes a backend call's latency
func (c *Collector) Generation(model string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.generation.WithLabelValues(model).Observe(elapsed.Seconds())
}

// Success stamps the last successful persist for model
func (c *Collector) Success(model string, at time.Time) {
	if c == nil {
		return
	}
	c.lastSuccess.WithLabelValues(model).Set(float64(at.Unix()))
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
