package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetryMetrics is fed by resilience.WithRetry, which calls these methods
// directly when its RetryPolicy carries them; resilience.WithRetryFunc does
// not record retry metrics.
type RetryMetrics struct {
	AttemptsTotal      *prometheus.CounterVec
	DurationSeconds    *prometheus.HistogramVec
	BackoffSeconds     *prometheus.HistogramVec
	FinalAttemptsTotal *prometheus.HistogramVec
}

func newRetryMetrics(namespace string, reg prometheus.Registerer) *RetryMetrics {
	factory := promauto.With(reg)
	return &RetryMetrics{
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "attempts_total",
			Help: "Total number of retry attempts by operation, outcome and error type",
		}, []string{"operation", "outcome", "error_type"}),
		DurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retry", Name: "attempt_duration_seconds",
			Help:    "Duration of a single retried attempt",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		BackoffSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retry", Name: "backoff_seconds",
			Help:    "Backoff delay inserted before the next retry attempt",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		}, []string{"operation"}),
		FinalAttemptsTotal: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retry", Name: "final_attempt_count",
			Help:    "Number of attempts taken before an operation reached its final outcome",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
		}, []string{"operation", "outcome"}),
	}
}

// RecordAttempt records one retry attempt for operation, tagged with its
// outcome ("success"/"failure") and, on failure, a coarse error type.
func (m *RetryMetrics) RecordAttempt(operation, outcome, errorType string, duration float64) {
	m.AttemptsTotal.WithLabelValues(operation, outcome, errorType).Inc()
	m.DurationSeconds.WithLabelValues(operation, outcome).Observe(duration)
}

// RecordBackoff records the backoff delay inserted before retrying operation.
func (m *RetryMetrics) RecordBackoff(operation string, delaySeconds float64) {
	m.BackoffSeconds.WithLabelValues(operation).Observe(delaySeconds)
}

// RecordFinalAttempt records how many attempts operation took before
// reaching its final outcome.
func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attemptCount int) {
	m.FinalAttemptsTotal.WithLabelValues(operation, outcome).Observe(float64(attemptCount))
}
