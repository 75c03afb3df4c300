package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
system:
  alerting:
    enabled: true
    channel: "#ad-ops"
  retention:
    change_history_retention_days: 30
executor:
  worker_count: 8
defaults:
  mode: direct
tenants:
  acme:
    mode: pipeline
    winner_ctr_threshold: 0.04
    stages:
      lead:
        value_percentage: 0.02
        confidence: 0.5
      closed_won:
        value_percentage: 1.0
        confidence: 1.0
    funnel_order: ["lead", "closed_won"]
`

func writeTestConfig(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adengine.yaml"), []byte(contents), 0o600))
}

func TestInitialize_LoadsAndValidates(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, testYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Executor.WorkerCount)
	assert.True(t, cfg.Alerting.Enabled)
	assert.Equal(t, "#ad-ops", cfg.Alerting.Channel)
	assert.Equal(t, 30, cfg.Retention.ChangeHistoryRetentionDays)
	assert.Equal(t, ModeDirect, cfg.Defaults.Mode)

	acme, err := cfg.GetTenant("acme")
	require.NoError(t, err)
	assert.Equal(t, ModePipeline, acme.Mode)
	assert.Equal(t, 0.04, acme.WinnerCTRThreshold)
	// unset fields fall back to the builtin template
	assert.Equal(t, 3.0, acme.WinnerROASThreshold)
}

func TestInitialize_MissingFile(t *testing.T) {
	dir := t.TempDir()

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_ADENGINE_CHANNEL", "#env-expanded")

	writeTestConfig(t, dir, `
system:
  alerting:
    enabled: true
    channel: "${TEST_ADENGINE_CHANNEL}"
tenants:
  acme:
    stages:
      lead:
        value_percentage: 0.02
    funnel_order: ["lead"]
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "#env-expanded", cfg.Alerting.Channel)
}
