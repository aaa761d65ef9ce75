// Package metrics holds the Prometheus collectors for registry activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packaging_items_created_total",
		Help: "Total number of packaging items created.",
	})

	ItemsUpdatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packaging_items_updated_total",
		Help: "Total number of packaging item updates.",
	})

	ItemsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packaging_items_deleted_total",
		Help: "Total number of packaging items deleted.",
	})

	RegistryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packaging_registry_errors_total",
		Help: "Total number of failed registry operations.",
	},
		[]string{"operation"},
	)

	Items = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "packaging_items",
		Help: "Current number of packaging items by status.",
	},
		[]string{"status"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packaging_events_published_total",
		Help: "Total number of change events delivered to a sink.",
	},
		[]string{"sink"},
	)

	EventPublishErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packaging_event_publish_errors_total",
		Help: "Total number of failed change event deliveries.",
	},
		[]string{"sink"},
	)

	WebSocketSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "packaging_websocket_subscribers",
		Help: "Current number of WebSocket change feed clients.",
	})
)
