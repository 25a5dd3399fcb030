package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BatchMetrics tracks Batch Processor activity: jobs, per-operation outcomes
// and queue depth.
type BatchMetrics struct {
	JobsStarted   *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec
	OperationsRun *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	ActiveWorkers prometheus.Gauge
	JobDuration   *prometheus.HistogramVec
}

func newBatchMetrics(namespace string, reg prometheus.Registerer) *BatchMetrics {
	factory := promauto.With(reg)
	return &BatchMetrics{
		JobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "jobs_started_total",
			Help: "Total number of batch jobs started",
		}, []string{"plugin"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "jobs_finished_total",
			Help: "Total number of batch jobs that reached a terminal state",
		}, []string{"plugin", "status"}),
		OperationsRun: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "operations_total",
			Help: "Total number of individual operations executed by the batch processor",
		}, []string{"plugin", "outcome"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "operation_retries_total",
			Help: "Total number of operations re-queued for retry",
		}, []string{"plugin"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "batch", Name: "queue_depth",
			Help: "Current number of operations awaiting a worker",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "batch", Name: "active_workers",
			Help: "Current number of busy worker goroutines",
		}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "batch", Name: "job_duration_seconds",
			Help:    "Wall-clock duration of a batch job from creation to terminal state",
			Buckets: prometheus.DefBuckets,
		}, []string{"plugin", "status"}),
	}
}
