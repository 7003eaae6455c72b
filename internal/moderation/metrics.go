package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ngguard_messages_processed_total",
	Help: "Messages classified by the moderation engine",
}, []string{"result"})

var messageProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ngguard_message_duration_seconds",
	Help:    "Time spent in the moderation engine per message, gateway calls included",
	Buckets: prometheus.DefBuckets,
})

var sanctionsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ngguard_sanctions_total",
	Help: "Sanctions issued, by action and enforcement mode",
}, []string{"action", "mode"})

var gatewayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ngguard_gateway_failures_total",
	Help: "Failed privilege gateway calls",
}, []string{"op"})

var pendingRestorations = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ngguard_pending_restorations",
	Help: "Scheduled un-mutes not yet fired",
})

var trackedSubjects = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ngguard_tracked_subjects",
	Help: "Chat members with moderation state, as of the last sweep",
})
