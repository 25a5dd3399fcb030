package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PollingMetrics tracks Polling Manager activity: scheduler ticks, change
// events detected and Gateway errors encountered during a poll.
type PollingMetrics struct {
	Ticks         *prometheus.CounterVec
	ChangeEvents  *prometheus.CounterVec
	GatewayErrors *prometheus.CounterVec
	ActiveJobs    prometheus.Gauge
	PollDuration  *prometheus.HistogramVec
}

func newPollingMetrics(namespace string, reg prometheus.Registerer) *PollingMetrics {
	factory := promauto.With(reg)
	return &PollingMetrics{
		Ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "polling", Name: "ticks_total",
			Help: "Total number of scheduler ticks executed",
		}, []string{"plugin"}),
		ChangeEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "polling", Name: "change_events_total",
			Help: "Total number of change events emitted",
		}, []string{"plugin"}),
		GatewayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "polling", Name: "gateway_errors_total",
			Help: "Total number of Gateway invocation errors encountered while polling",
		}, []string{"plugin"}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "polling", Name: "active_jobs",
			Help: "Current number of scheduled polling jobs",
		}),
		PollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "polling", Name: "poll_duration_seconds",
			Help:    "Duration of a single poll invocation against the Gateway",
			Buckets: prometheus.DefBuckets,
		}, []string{"plugin"}),
	}
}
