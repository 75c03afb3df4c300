package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordChangeApplied_IncrementsCounter(t *testing.T) {
	initial := testutil.ToFloat64(ChangesAppliedTotal.WithLabelValues("budget_decrease"))
	RecordChangeApplied("budget_decrease")
	after := testutil.ToFloat64(ChangesAppliedTotal.WithLabelValues("budget_decrease"))
	assert.Equal(t, initial+1.0, after)
}

func TestRecordChangeDead_IncrementsCounter(t *testing.T) {
	initial := testutil.ToFloat64(ChangesDeadTotal.WithLabelValues("pause"))
	RecordChangeDead("pause")
	after := testutil.ToFloat64(ChangesDeadTotal.WithLabelValues("pause"))
	assert.Equal(t, initial+1.0, after)
}

func TestRecordChangeRequeued_IncrementsCounterByReason(t *testing.T) {
	initial := testutil.ToFloat64(ChangesRequeuedTotal.WithLabelValues("rate_limited"))
	RecordChangeRequeued("rate_limited")
	after := testutil.ToFloat64(ChangesRequeuedTotal.WithLabelValues("rate_limited"))
	assert.Equal(t, initial+1.0, after)
}

func TestRecordQueueDepth_SetsGauge(t *testing.T) {
	RecordQueueDepth("pending", 42)
	assert.Equal(t, 42.0, testutil.ToFloat64(QueueDepth.WithLabelValues("pending")))
}

func TestSetFatigueSeverity_SetsGaugePerAd(t *testing.T) {
	SetFatigueSeverity("ad-1", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(FatigueSeverityGauge.WithLabelValues("ad-1")))
}

func TestRecordAllocatorDecision_ObservesHistogram(t *testing.T) {
	RecordAllocatorDecision("tenant-allocator-test", 250*time.Millisecond)

	metric := &dto.Metric{}
	observer := AllocatorDecisionDuration.WithLabelValues("tenant-allocator-test")
	require.NoError(t, observer.(prometheus.Histogram).Write(metric))
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0)
}

func TestRecordClaimLatency_ObservesHistogram(t *testing.T) {
	RecordClaimLatency(1500 * time.Millisecond)

	metric := &dto.Metric{}
	require.NoError(t, ClaimLatencySeconds.Write(metric))
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0)
}
