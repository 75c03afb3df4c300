package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AdEngineYAMLConfig represents the complete adengine.yaml file structure.
type AdEngineYAMLConfig struct {
	System   *SystemYAMLConfig       `yaml:"system"`
	Defaults *Defaults               `yaml:"defaults"`
	Executor *ExecutorConfig         `yaml:"executor"`
	Platform *PlatformConfig         `yaml:"platform"`
	Tenants  map[string]TenantConfig `yaml:"tenants"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	Alerting  *AlertingYAMLConfig `yaml:"alerting"`
	Retention *RetentionConfig    `yaml:"retention"`
}

// AlertingYAMLConfig holds Slack alerting settings from YAML.
type AlertingYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load adengine.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge the built-in default tenant template with each user tenant
//  5. Build the tenant registry
//  6. Apply default values for executor/retention/alerting
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized successfully", "tenants", stats.Tenants)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlConfig, err := loader.loadAdEngineYAML()
	if err != nil {
		return nil, NewLoadError("adengine.yaml", err)
	}

	builtin := GetBuiltinConfig()
	tenants := mergeTenants(builtin.DefaultTenant, yamlConfig.Tenants)
	tenantRegistry := NewTenantRegistry(tenants)

	defaults := yamlConfig.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.Mode == "" {
		defaults.Mode = builtin.DefaultTenant.Mode
	}
	if defaults.IgnoreZoneDaysDirect == 0 {
		defaults.IgnoreZoneDaysDirect = builtin.DefaultTenant.IgnoreZoneDaysDirect
	}
	if defaults.FatigueWindowHours == 0 {
		defaults.FatigueWindowHours = builtin.DefaultTenant.FatigueWindowHours
	}
	if defaults.WinnerCTRThreshold == 0 {
		defaults.WinnerCTRThreshold = builtin.DefaultTenant.WinnerCTRThreshold
	}
	if defaults.WinnerROASThreshold == 0 {
		defaults.WinnerROASThreshold = builtin.DefaultTenant.WinnerROASThreshold
	}
	if defaults.WinnerMinSpendCents == 0 {
		defaults.WinnerMinSpendCents = builtin.DefaultTenant.WinnerMinSpendCents
	}
	if defaults.BaselineStrategy == "" {
		defaults.BaselineStrategy = builtin.DefaultTenant.BaselineStrategy
	}

	executorCfg := DefaultExecutorConfig()
	if yamlConfig.Executor != nil {
		if err := mergo.Merge(executorCfg, yamlConfig.Executor, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge executor config: %w", err)
		}
	}

	retentionCfg := resolveRetentionConfig(yamlConfig.System)
	alertingCfg := resolveAlertingConfig(yamlConfig.System)

	platformCfg := DefaultPlatformConfig()
	if yamlConfig.Platform != nil {
		if err := mergo.Merge(platformCfg, yamlConfig.Platform, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge platform config: %w", err)
		}
	}

	return &Config{
		configDir:      configDir,
		Defaults:       defaults,
		Executor:       executorCfg,
		Retention:      retentionCfg,
		Alerting:       alertingCfg,
		Platform:       platformCfg,
		TenantRegistry: tenantRegistry,
	}, nil
}

func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Note: ExpandEnv never fails; malformed content is passed on for the
	// YAML parser to reject with a clearer error message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadAdEngineYAML() (*AdEngineYAMLConfig, error) {
	var config AdEngineYAMLConfig
	config.Tenants = make(map[string]TenantConfig)

	if err := l.loadYAML("adengine.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// resolveRetentionConfig resolves retention configuration from the system
// YAML section, applying defaults for anything unset.
func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg
	}

	r := sys.Retention
	if r.ChangeHistoryRetentionDays > 0 {
		cfg.ChangeHistoryRetentionDays = r.ChangeHistoryRetentionDays
	}
	if r.WinnerPatternCompactionInterval > 0 {
		cfg.WinnerPatternCompactionInterval = r.WinnerPatternCompactionInterval
	}
	if r.NearDuplicateThreshold > 0 {
		cfg.NearDuplicateThreshold = r.NearDuplicateThreshold
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}

	return cfg
}
