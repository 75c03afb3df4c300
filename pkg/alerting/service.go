package alerting

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/fatigue"
	"github.com/codeready-toolchain/adengine/pkg/models"
)

// Service delivers the two alert conditions, a dead change and a
// severity-2+ fatigue evaluation, to Slack. Nil-safe: every
// method is a no-op when the service itself is nil, so callers can wire a
// possibly-nil *Service wherever executor.Alerter/fatigue.Alerter is
// expected without a separate disabled/no-op check.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService builds a Service from resolved alerting config. Returns nil
// if alerting is disabled or no token/channel is configured.
func NewService(cfg *config.AlertingConfig, token string) *Service {
	if cfg == nil || !cfg.Enabled || token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(token, cfg.Channel),
		logger: slog.Default().With("component", "alerting-service"),
	}
}

// NewServiceWithClient builds a Service backed by a pre-built Client,
// useful for testing against a mock Slack API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{client: client, logger: slog.Default().With("component", "alerting-service")}
}

// NotifyDeadChange implements executor.Alerter. Fail-open: errors are
// logged, never returned, since a failed Slack post must never block the
// executor's own processing.
func (s *Service) NotifyDeadChange(ctx context.Context, change *models.PendingAdChange, reason string) {
	if s == nil {
		return
	}
	blocks := buildDeadChangeMessage(change, reason)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send dead-change alert", "change_id", change.ID, "ad_id", change.AdID, "error", err)
	}
}

// NotifyFatigueSeverity implements fatigue.Alerter. Fail-open, same as
// NotifyDeadChange.
func (s *Service) NotifyFatigueSeverity(ctx context.Context, c fatigue.Candidate, severity int, reason string) {
	if s == nil {
		return
	}
	blocks := buildFatigueSeverityMessage(c, severity, reason)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send fatigue alert", "ad_id", c.AdID, "severity", severity, "error", err)
	}
}
