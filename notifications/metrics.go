package notifications

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_notification_deliveries_total",
		Help: "Delivery outcomes by channel and status.",
	}, []string{"channel", "status"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_notification_retries_total",
		Help: "Retriable delivery failures requeued with backoff.",
	}, []string{"channel"})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_notification_events_published_total",
		Help: "Lifecycle events published to the bus.",
	}, []string{"subject"})

	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_notification_events_consumed_total",
		Help: "Domain events consumed from the bus.",
	}, []string{"subject"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_notification_queue_depth",
		Help: "Notifications waiting in the delivery queue.",
	})
)
