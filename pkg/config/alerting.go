package config

// AlertingConfig holds optional Slack alerting settings, notified when a
// PendingAdChange goes dead or the fatigue detector raises a severity-2
// alert.
type AlertingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// resolveAlertingConfig resolves alerting configuration from the system
// YAML section, applying defaults for anything unset.
func resolveAlertingConfig(sys *SystemYAMLConfig) *AlertingConfig {
	cfg := &AlertingConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}

	if sys == nil || sys.Alerting == nil {
		return cfg
	}

	a := sys.Alerting
	if a.Enabled != nil {
		cfg.Enabled = *a.Enabled
	}
	if a.TokenEnv != "" {
		cfg.TokenEnv = a.TokenEnv
	}
	if a.Channel != "" {
		cfg.Channel = a.Channel
	}

	return cfg
}
