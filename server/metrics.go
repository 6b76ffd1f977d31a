package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the proxy service.
type Metrics struct {
	RequestsTotal  *prometheus.CounterVec
	RequestSeconds *prometheus.HistogramVec
	CacheTotal     *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec
}

// DefaultMetrics creates metrics on the default registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates the proxy metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twx_proxy_requests_total",
				Help: "Requests served, by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "twx_proxy_request_seconds",
				Help:    "Request duration by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		CacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twx_proxy_cache_total",
				Help: "Response cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twx_proxy_upstream_errors_total",
				Help: "Failed upstream requests by route",
			},
			[]string{"route"},
		),
	}
}
