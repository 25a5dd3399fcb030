package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics tracks Response Cache activity, labeled by tier ("memory" or
// "disk").
type CacheMetrics struct {
	Hits      *prometheus.CounterVec
	Misses    *prometheus.CounterVec
	Evictions *prometheus.CounterVec
	Errors    *prometheus.CounterVec
	BytesUsed prometheus.Gauge
	Items     prometheus.Gauge
	Latency   *prometheus.HistogramVec
}

func newCacheMetrics(namespace string, reg prometheus.Registerer) *CacheMetrics {
	factory := promauto.With(reg)
	m := &CacheMetrics{
		Hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Total number of cache hits by tier",
		}, []string{"tier"}),
		Misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Total number of cache misses by tier",
		}, []string{"tier"}),
		Evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
			Help: "Total number of cache evictions by strategy",
		}, []string{"strategy"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "errors_total",
			Help: "Total number of cache errors by operation",
		}, []string{"operation"}),
		BytesUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "bytes_stored",
			Help: "Current approximate bytes stored in the cache",
		}),
		Items: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "items",
			Help: "Current number of entries in the cache",
		}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "cache", Name: "operation_duration_seconds",
			Help:    "Cache operation duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
	}
	return m
}
