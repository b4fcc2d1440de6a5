// internal/utils/metrics.go
package utils

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector collects application metrics on its own registry
type MetricsCollector struct {
	registry *prometheus.Registry

	navigations     *prometheus.CounterVec
	contentFailures *prometheus.CounterVec
	storeFailures   *prometheus.CounterVec
	contentLoad     prometheus.Histogram
	storiesLoaded   prometheus.Gauge
}

// NewMetricsCollector creates and registers all collectors
func NewMetricsCollector() *MetricsCollector {
	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion_stories",
			Name:      "navigation_steps_total",
			Help:      "Successful story navigation steps by kind.",
		}, []string{"kind"}),
		contentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion_stories",
			Name:      "content_load_failures_total",
			Help:      "Content fetch or parse failures by resource kind.",
		}, []string{"resource"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion_stories",
			Name:      "state_store_failures_total",
			Help:      "State store failures by operation.",
		}, []string{"op"}),
		contentLoad: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "companion_stories",
			Name:      "content_load_seconds",
			Help:      "Duration of the full content load and validation.",
			Buckets:   prometheus.DefBuckets,
		}),
		storiesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "companion_stories",
			Name:      "stories_loaded",
			Help:      "Number of character stories currently loaded.",
		}),
	}

	m.registry.MustRegister(m.navigations, m.contentFailures, m.storeFailures, m.contentLoad, m.storiesLoaded)
	return m
}

// IncNavigation counts a navigation step
func (m *MetricsCollector) IncNavigation(kind string) {
	if m == nil {
		return
	}
	m.navigations.WithLabelValues(kind).Inc()
}

// IncContentFailure counts a content load failure
func (m *MetricsCollector) IncContentFailure(resource string) {
	if m == nil {
		return
	}
	m.contentFailures.WithLabelValues(resource).Inc()
}

// IncStoreFailure counts a state store failure
func (m *MetricsCollector) IncStoreFailure(op string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(op).Inc()
}

// ObserveContentLoad records the duration since start
func (m *MetricsCollector) ObserveContentLoad(start time.Time) {
	if m == nil {
		return
	}
	m.contentLoad.Observe(time.Since(start).Seconds())
}

// SetStoriesLoaded sets the loaded stories gauge
func (m *MetricsCollector) SetStoriesLoaded(n int) {
	if m == nil {
		return
	}
	m.storiesLoaded.Set(float64(n))
}

// Registry exposes the underlying registry (tests, custom exporters)
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry in Prometheus format
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
