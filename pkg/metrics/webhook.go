package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebhookMetrics tracks Webhook Manager activity: inbound requests,
// signature verification outcomes and dispatch latency to registered
// handlers.
type WebhookMetrics struct {
	RequestsReceived   *prometheus.CounterVec
	HandshakesServed   *prometheus.CounterVec
	SignatureFailures  *prometheus.CounterVec
	DispatchErrors     *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
}

func newWebhookMetrics(namespace string, reg prometheus.Registerer) *WebhookMetrics {
	factory := promauto.With(reg)
	return &WebhookMetrics{
		RequestsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "requests_total",
			Help: "Total number of inbound webhook requests by registration and status",
		}, []string{"registration", "status"}),
		HandshakesServed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "handshakes_total",
			Help: "Total number of verification handshake requests served",
		}, []string{"registration", "kind"}),
		SignatureFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "signature_failures_total",
			Help: "Total number of requests rejected for a bad or missing signature",
		}, []string{"registration"}),
		DispatchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "dispatch_errors_total",
			Help: "Total number of handler dispatch errors",
		}, []string{"registration"}),
		DispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "dispatch_duration_seconds",
			Help:    "Duration of handler dispatch for a received webhook event",
			Buckets: prometheus.DefBuckets,
		}, []string{"registration"}),
	}
}
