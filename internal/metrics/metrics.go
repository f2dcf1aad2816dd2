package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fieldroute_http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "fieldroute_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path"},
	)

	// ResolverOutcomes counts which tier placed a customer, "unresolved" when none did
	ResolverOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fieldroute_resolver_outcomes_total", Help: "Address resolutions by winning tier."},
		[]string{"tier"},
	)
	// GeocodeRequests counts geocoder calls by tier and result
	GeocodeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fieldroute_geocode_requests_total", Help: "Geocoder calls by tier and result."},
		[]string{"tier", "result"},
	)
	// CoordinateCacheSize is the number of identities in the coordinate cache
	CoordinateCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "fieldroute_coordinate_cache_entries", Help: "Entries in the coordinate cache."},
	)

	// Estimates counts segment estimations by mode and whether they were served from memo
	Estimates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fieldroute_estimates_total", Help: "Segment estimations by mode and source."},
		[]string{"mode", "source"},
	)
	// EstimatorOffline is 1 once the estimator fell back to offline mode
	EstimatorOffline = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "fieldroute_estimator_offline", Help: "1 when segment estimation runs offline."},
	)
)

var regOnce sync.Once

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(ResolverOutcomes)
		Registry.MustRegister(GeocodeRequests)
		Registry.MustRegister(CoordinateCacheSize)
		Registry.MustRegister(Estimates)
		Registry.MustRegister(EstimatorOffline)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
