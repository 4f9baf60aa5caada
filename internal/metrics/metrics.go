// Package metrics exposes render and fetch counters for Prometheus. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the engine's metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	rendersStarted  prometheus.Counter
	rendersFinished prometheus.Counter
	renderFailures  *prometheus.CounterVec
	renderDuration  *prometheus.HistogramVec
	fetches         *prometheus.CounterVec
}

// NewCollector creates a collector with a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rendersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bang_renders_started_total",
			Help: "Total number of component renders started",
		}),
		rendersFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bang_renders_finished_total",
			Help: "Total number of component renders settled, successful or not",
		}),
		renderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bang_render_failures_total",
			Help: "Total number of failed component renders",
		}, []string{"component"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bang_render_duration_seconds",
			Help:    "Duration of component renders",
			Buckets: prometheus.DefBuckets,
		}, []string{"component"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bang_fetches_total",
			Help: "Total number of component file fetches that reached the source",
		}, []string{"file"}),
	}
	c.registry.MustRegister(
		c.rendersStarted,
		c.rendersFinished,
		c.renderFailures,
		c.renderDuration,
		c.fetches,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RenderStarted counts a render attempt.
func (c *Collector) RenderStarted() {
	if c == nil {
		return
	}
	c.rendersStarted.Inc()
}

// RenderFinished counts a settled render and its duration.
func (c *Collector) RenderFinished(component string, d time.Duration) {
	if c == nil {
		return
	}
	c.rendersFinished.Inc()
	c.renderDuration.WithLabelValues(component).Observe(d.Seconds())
}

// RenderFailed counts a failed render of component.
func (c *Collector) RenderFailed(component string) {
	if c == nil {
		return
	}
	c.renderFailures.WithLabelValues(component).Inc()
}

// Fetched counts a fetch of file.
func (c *Collector) Fetched(file string) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(file).Inc()
}

// Handler serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
