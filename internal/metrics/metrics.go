// Package metrics holds the worker's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Firehose
	FramesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firehose_frames_read_total",
		Help: "The total number of frames read from the firehose",
	})

	MalformedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firehose_malformed_frames_total",
		Help: "The total number of frames discarded because they could not be decoded",
	})

	PostsDecoded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firehose_posts_decoded_total",
		Help: "The total number of post creations surfaced to the matcher",
	})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firehose_reconnects_total",
		Help: "The total number of firehose reconnect attempts",
	})

	Cursor = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "firehose_cursor",
		Help: "The last consumed firehose sequence number",
	})

	// Registry
	RegistryTenants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registry_tenants",
		Help: "The number of tenants in the current registry snapshot",
	})

	RegistryRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_refreshes_total",
		Help: "The total number of registry refreshes",
	}, []string{"kind", "result"})

	// Delivery
	Matches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matcher_matches_total",
		Help: "The total number of tenant matches produced by the matcher",
	})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "The total number of webhook deliveries by result",
	}, []string{"result"})

	DeliveryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_delivery_duration_seconds",
		Help:    "The latency of webhook deliveries",
		Buckets: prometheus.DefBuckets,
	})

	Suspensions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenant_suspensions_total",
		Help: "The total number of times a tenant was suspended",
	})
)

func init() {
	prometheus.MustRegister(
		FramesRead,
		MalformedFrames,
		PostsDecoded,
		Reconnects,
		Cursor,
		RegistryTenants,
		RegistryRefreshes,
		Matches,
		Deliveries,
		DeliveryLatency,
		Suspensions,
	)
}

// Handler returns an http.Handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
