// Package metrics exposes prometheus instruments for the sync engine. All
// collectors register on the default registry and are served by the
// gateway's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconcile outcome labels.
const (
	OutcomeMerged    = "merged"
	OutcomeNew       = "new"
	OutcomeDuplicate = "duplicate"
	OutcomeReplayed  = "replayed"
)

var (
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatview_reconcile_events_total",
		Help: "Remote events processed by the reconciliation engine, by outcome.",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatview_ordering_queue_depth",
		Help: "Events buffered in the ordering queue awaiting enrichment.",
	})

	EnrichFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatview_enrich_failures_total",
		Help: "Best-effort enrichment lookups that failed and fell back.",
	})

	SendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatview_send_attempts_total",
		Help: "Outgoing send attempts by result (sent, failed, cancelled, rejected).",
	}, []string{"result"})

	UploadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatview_uploads_in_flight",
		Help: "Attachment transfers currently in progress.",
	})

	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatview_cache_messages",
		Help: "Messages held in the open thread's cache.",
	})
)
