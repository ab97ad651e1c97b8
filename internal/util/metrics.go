package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BranchEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "branch_events_total",
		Help: "Branch operational events received, by event and outcome",
	}, []string{"event", "outcome"})

	BranchEventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "branch_events_duplicate_total",
		Help: "Branch events skipped because their id was already ingested",
	})

	BranchSnapshotsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "branch_snapshots_tracked",
		Help: "Number of branches with an in-memory metrics snapshot",
	})

	SnapshotUpdatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_updates_dropped_total",
		Help: "Snapshot updates not delivered to a slow subscriber",
	})

	SnapshotMirrorFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_mirror_failed_total",
		Help: "Failed snapshot mirror writes, by sink",
	}, []string{"sink"})

	SyncActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_actions_total",
		Help: "Status synchronization actions, by action and outcome",
	}, []string{"action", "outcome"})

	SyncActionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_action_latency_seconds",
		Help:    "Latency of status synchronization transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	ReservationConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_conversions_total",
		Help: "Reservation-to-order conversions, by outcome",
	}, []string{"outcome"})

	DerivedEventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "derived_events_failed_total",
		Help: "Branch events derived from sync actions that could not be published",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
