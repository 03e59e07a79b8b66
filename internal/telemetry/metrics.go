// Package telemetry exposes prometheus counters for the state synchronization layer.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	collectionMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_collection_mutations_total",
			Help: "Total number of mutations applied to persisted collections",
		},
		[]string{"key", "operation"},
	)

	storageWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_storage_write_failures_total",
			Help: "Total number of durable writes that failed and were not retried",
		},
		[]string{"key"},
	)

	identityTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_identity_transitions_total",
			Help: "Total number of identity controller state transitions",
		},
		[]string{"phase"},
	)

	notificationBroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_notification_broadcasts_total",
			Help: "Total number of notification changed signals broadcast",
		},
	)
)

// CollectionMutation counts one mutation of the collection stored under key.
func CollectionMutation(key, operation string) {
	collectionMutationsTotal.WithLabelValues(key, operation).Inc()
}

// StorageWriteFailure counts a durable write failure for key.
func StorageWriteFailure(key string) {
	storageWriteFailuresTotal.WithLabelValues(key).Inc()
}

// IdentityTransition counts a controller transition into phase.
func IdentityTransition(phase string) {
	identityTransitionsTotal.WithLabelValues(phase).Inc()
}

// NotificationBroadcast counts one notifications changed signal.
func NotificationBroadcast() {
	notificationBroadcastsTotal.Inc()
}

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
