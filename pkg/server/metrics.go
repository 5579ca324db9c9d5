package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the server's Prometheus metric set on a private registry,
// so tests can create servers without duplicate-registration panics.
type Metrics struct {
	registry   *prometheus.Registry
	Received   prometheus.Counter
	Dropped    prometheus.Counter
	Wakes      prometheus.Counter
	QueueDepth prometheus.Gauge
}

// NewMetrics builds and registers the metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_messages_received_total",
			Help: "Messages accepted by the ingress endpoint.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_messages_dropped_total",
			Help: "Messages persisted but dropped from the wake queue.",
		}),
		Wakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_wake_requests_total",
			Help: "Wake endpoint requests handled.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_wake_queue_depth",
			Help: "Current wake queue depth.",
		}),
	}
	m.registry.MustRegister(m.Received, m.Dropped, m.Wakes, m.QueueDepth)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
