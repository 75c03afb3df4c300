// Package telemetry is the engine's observability surface: every
// terminal PendingAdChange transition emits a structured event, and
// Prometheus gauges/histograms/counters track queue depth, claim
// latency, applied/dead counts, and allocator decision timing. There is
// no UI to push these to, so event delivery is structured logging
// rather than pub-sub.
package telemetry

import (
	"context"
	"log/slog"
)

// ChangeEventType identifies which terminal transition a ChangeEvent
// reports.
type ChangeEventType string

// Terminal PendingAdChange transitions.
const (
	ChangeEventApplied ChangeEventType = "applied"
	ChangeEventDead    ChangeEventType = "dead"
)

// ChangeEvent is the structured audit record emitted for every
// terminal PendingAdChange transition.
type ChangeEvent struct {
	ChangeID   string          `json:"change_id"`
	AdID       string          `json:"ad_id"`
	ChangeType string          `json:"change_type"`
	Status     ChangeEventType `json:"status"`
	LatencyMS  int64           `json:"latency_ms"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error,omitempty"`
	Reason     string          `json:"reason"`
}

// ChangeRecorder is notified of every terminal PendingAdChange
// transition. Satisfied by SlogRecorder; callers needing fan-out (e.g.
// also emitting a metric) compose recorders with MultiRecorder.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, e ChangeEvent)
}

// SlogRecorder logs ChangeEvents as structured log records.
type SlogRecorder struct{}

// RecordChange logs e at info level (applied) or warn level (dead).
func (SlogRecorder) RecordChange(ctx context.Context, e ChangeEvent) {
	attrs := []any{
		"change_id", e.ChangeID,
		"ad_id", e.AdID,
		"change_type", e.ChangeType,
		"status", string(e.Status),
		"latency_ms", e.LatencyMS,
		"attempts", e.Attempts,
		"reason", e.Reason,
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}

	switch e.Status {
	case ChangeEventDead:
		slog.Warn("pending ad change reached terminal dead state", attrs...)
	default:
		slog.Info("pending ad change applied", attrs...)
	}
}

// MultiRecorder fans a ChangeEvent out to every recorder in order.
type MultiRecorder []ChangeRecorder

// RecordChange calls RecordChange on every wrapped recorder.
func (m MultiRecorder) RecordChange(ctx context.Context, e ChangeEvent) {
	for _, r := range m {
		r.RecordChange(ctx, e)
	}
}
