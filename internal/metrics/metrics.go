// Package metrics defines the Prometheus instruments for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus instruments. Instruments are registered on a
// private registry so multiple instances (tests, embedded use) never collide.
type Metrics struct {
	registry *prometheus.Registry

	IngestTotal       *prometheus.CounterVec // labels: status
	ExtractStrategy   *prometheus.CounterVec // labels: strategy
	StorageWriteDur   prometheus.Histogram
	RelayPublishTotal *prometheus.CounterVec // labels: result
	HTTPRequests      *prometheus.CounterVec // labels: method, path, code
}

// New registers and returns the relay's metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvproxy_ingest_total",
			Help: "Ingestion outcomes by status",
		}, []string{"status"}),
		ExtractStrategy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvproxy_extract_strategy_total",
			Help: "Payload extraction strategy hits",
		}, []string{"strategy"}),
		StorageWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tvproxy_storage_write_duration_seconds",
			Help:    "Signal insert latency",
			Buckets: prometheus.DefBuckets,
		}),
		RelayPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvproxy_relay_publish_total",
			Help: "Kafka relay publish results",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvproxy_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "path", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.IngestTotal,
		m.ExtractStrategy,
		m.StorageWriteDur,
		m.RelayPublishTotal,
		m.HTTPRequests,
	)
	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
