// Package metrics provides Prometheus metrics exposure for embedding bots.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry manages Prometheus metrics registration and exposure.
// The coordination packages (dispatch, batch, schedule, locks, cooldown)
// register their collectors with the process-default registry via promauto;
// Registry merges that with its own registry so bots can add custom
// collectors without touching the default one.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a new metrics registry.
// Go runtime and process collectors are already part of the process-default
// registry and are exposed through Handler without extra registration.
func NewRegistry() *Registry {
	return &Registry{
		registry: prometheus.NewRegistry(),
	}
}

// Register registers a custom Prometheus collector.
//
// Example:
//
//	customCounter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Name: "mybot_commands_total",
//	    Help: "Total number of bot commands handled",
//	})
//	registry.Register(customCounter)
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister registers custom Prometheus collectors and panics on error.
// Use this for metrics that must be registered at startup.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Unregister removes a collector from the registry.
// This is primarily useful for testing.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registry.Unregister(collector)
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
// The output covers both the process-default registry (coordination metrics,
// Go runtime, process stats) and collectors registered on this Registry.
//
// Example:
//
//	http.Handle("/metrics", registry.Handler())
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns a gatherer covering the default registry and this one.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{prometheus.DefaultGatherer, r.registry}
}
