package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level metric collectors, registered with the default
// registry at package init. Record* wrapper functions are the only way
// callers touch these.
var (
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "adengine_executor_queue_depth",
		Help: "Number of pending_ad_changes rows by status.",
	}, []string{"status"})

	ClaimLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "adengine_executor_claim_latency_seconds",
		Help:    "Time between a change's earliest_execute_at and the moment a worker claims it.",
		Buckets: prometheus.DefBuckets,
	})

	ChangesAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adengine_executor_changes_applied_total",
		Help: "Count of PendingAdChanges that reached the applied terminal state, by change_type.",
	}, []string{"change_type"})

	ChangesDeadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adengine_executor_changes_dead_total",
		Help: "Count of PendingAdChanges that reached the dead terminal state, by change_type.",
	}, []string{"change_type"})

	ChangesRequeuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adengine_executor_changes_requeued_total",
		Help: "Count of retryable-failure requeues, by reason (rate_limited, velocity_capped, transient_error).",
	}, []string{"reason"})

	AllocatorDecisionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adengine_allocator_decision_duration_seconds",
		Help:    "Wall time of one scheduler decision cycle, by tenant_id.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tenant_id"})

	FatigueSeverityGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "adengine_fatigue_severity",
		Help: "Most recent fatigue severity count observed for an ad (0-4).",
	}, []string{"ad_id"})
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		ClaimLatencySeconds,
		ChangesAppliedTotal,
		ChangesDeadTotal,
		ChangesRequeuedTotal,
		AllocatorDecisionDuration,
		FatigueSeverityGauge,
	)
}

// RecordQueueDepth sets the current pending_ad_changes count for status.
func RecordQueueDepth(status string, depth int) {
	QueueDepth.WithLabelValues(status).Set(float64(depth))
}

// RecordClaimLatency observes the delay between a change's
// earliest_execute_at and the moment it was claimed.
func RecordClaimLatency(d time.Duration) {
	ClaimLatencySeconds.Observe(d.Seconds())
}

// RecordChangeApplied increments the applied counter for changeType.
func RecordChangeApplied(changeType string) {
	ChangesAppliedTotal.WithLabelValues(changeType).Inc()
}

// RecordChangeDead increments the dead counter for changeType.
func RecordChangeDead(changeType string) {
	ChangesDeadTotal.WithLabelValues(changeType).Inc()
}

// RecordChangeRequeued increments the requeue counter for reason.
func RecordChangeRequeued(reason string) {
	ChangesRequeuedTotal.WithLabelValues(reason).Inc()
}

// RecordAllocatorDecision observes one scheduler decision cycle's
// duration for tenantID.
func RecordAllocatorDecision(tenantID string, d time.Duration) {
	AllocatorDecisionDuration.WithLabelValues(tenantID).Observe(d.Seconds())
}

// SetFatigueSeverity records adID's most recent fatigue severity count.
func SetFatigueSeverity(adID string, severity int) {
	FatigueSeverityGauge.WithLabelValues(adID).Set(float64(severity))
}
