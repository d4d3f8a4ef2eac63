package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_audit_events_captured_total",
		Help: "Audit events persisted, by category and severity.",
	}, []string{"category", "severity"})

	dedupDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_audit_dedup_drops_total",
		Help: "Bus events dropped by the seen-set as duplicates.",
	})

	alertsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_audit_alerts_published_total",
		Help: "audit.event_recorded events published for high-severity captures.",
	})
)
