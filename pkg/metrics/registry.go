// Package metrics provides centralized Prometheus metrics management for the
// API Integration Fabric.
//
// This package implements a per-category taxonomy for metrics, one category
// per fabric subsystem:
//   - Cache metrics: hits, misses, evictions, bytes stored, operation latency
//   - Batch metrics: jobs started/finished, operations retried, queue depth
//   - Polling metrics: ticks, change events, gateway errors
//   - Webhook metrics: requests received, signature failures, dispatch latency
//   - Retry metrics: shared by any subsystem that wraps a call in resilience.WithRetry
//
// All metrics follow the naming convention:
// <namespace>_<subsystem>_<metric_name>_<unit>
//
// Example:
//
//	registry := metrics.NewRegistry("apifabric", nil)
//	registry.Cache().Hits.WithLabelValues("memory").Inc()
//
// Unlike the module this package is adapted from, Registry is never a
// process-wide singleton: each Fabric instance owns one, created explicitly
// by its constructor and threaded through to every component.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Each category constructor uses promauto.With(reg) internally, so every
// collector in this package registers against the Registerer passed to
// NewRegistry rather than prometheus.DefaultRegisterer implicitly.

// Registry is the central holder for all Prometheus metrics emitted by one
// fabric instance. Category managers are lazily initialized so a caller that
// only wires up, say, the Response Cache never registers Batch or Webhook
// collectors.
type Registry struct {
	namespace string
	reg       prometheus.Registerer

	cache   *CacheMetrics
	batch   *BatchMetrics
	polling *PollingMetrics
	webhook *WebhookMetrics
	retry   *RetryMetrics

	cacheOnce   sync.Once
	batchOnce   sync.Once
	pollingOnce sync.Once
	webhookOnce sync.Once
	retryOnce   sync.Once
}

// NewRegistry creates a Registry bound to the given namespace. Pass
// prometheus.DefaultRegisterer to expose metrics on the process-wide
// /metrics endpoint, or a fresh *prometheus.Registry in tests to avoid
// collector-already-registered panics across test cases.
func NewRegistry(namespace string, reg prometheus.Registerer) *Registry {
	if namespace == "" {
		namespace = "apifabric"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Registry{namespace: namespace, reg: reg}
}

// Namespace returns the configured metric namespace.
func (r *Registry) Namespace() string { return r.namespace }

// Cache returns the Response Cache metrics manager, lazily initialized.
func (r *Registry) Cache() *CacheMetrics {
	r.cacheOnce.Do(func() { r.cache = newCacheMetrics(r.namespace, r.reg) })
	return r.cache
}

// Batch returns the Batch Processor metrics manager, lazily initialized.
func (r *Registry) Batch() *BatchMetrics {
	r.batchOnce.Do(func() { r.batch = newBatchMetrics(r.namespace, r.reg) })
	return r.batch
}

// Polling returns the Polling Manager metrics manager, lazily initialized.
func (r *Registry) Polling() *PollingMetrics {
	r.pollingOnce.Do(func() { r.polling = newPollingMetrics(r.namespace, r.reg) })
	return r.polling
}

// Webhook returns the Webhook Manager metrics manager, lazily initialized.
func (r *Registry) Webhook() *WebhookMetrics {
	r.webhookOnce.Do(func() { r.webhook = newWebhookMetrics(r.namespace, r.reg) })
	return r.webhook
}

// Retry returns the shared retry-policy metrics manager, lazily initialized.
func (r *Registry) Retry() *RetryMetrics {
	r.retryOnce.Do(func() { r.retry = newRetryMetrics(r.namespace, r.reg) })
	return r.retry
}
