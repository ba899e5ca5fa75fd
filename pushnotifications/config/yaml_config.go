package config

import (
	"log/slog"
	"time"
)

type YamlStateConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type YamlRetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type YamlTokenProviderConfig struct {
	AuthURL     string            `yaml:"auth_url"`
	Timeout     time.Duration     `yaml:"timeout"`
	Headers     map[string]string `yaml:"headers"`
	QueryParams map[string]string `yaml:"query_params"`
}

// YamlConfig mirrors a pushnotifications.yaml file.
type YamlConfig struct {
	InstanceID       string                  `yaml:"instance_id"`
	BaseURL          string                  `yaml:"base_url"`
	ReportingBaseURL string                  `yaml:"reporting_base_url"`
	DeviceToken      string                  `yaml:"device_token"`
	DeliveryTracking bool                    `yaml:"delivery_tracking"`
	State            YamlStateConfig         `yaml:"state"`
	Retry            YamlRetryConfig         `yaml:"retry"`
	TokenProvider    YamlTokenProviderConfig `yaml:"token_provider"`
}

// NewConfigFromYaml converts the YamlConfig into a base Config.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		InstanceID:       baseCfg.InstanceID,
		BaseURL:          baseCfg.BaseURL,
		ReportingBaseURL: baseCfg.ReportingBaseURL,
		DeviceToken:      baseCfg.DeviceToken,
		DeliveryTracking: baseCfg.DeliveryTracking,
		State: StateConfig{
			Driver: StateDriver(baseCfg.State.Driver),
			Path:   baseCfg.State.Path,
		},
		Retry: RetryConfig{
			InitialInterval: baseCfg.Retry.InitialInterval,
			MaxInterval:     baseCfg.Retry.MaxInterval,
		},
		TokenProvider: TokenProviderConfig{
			AuthURL:     baseCfg.TokenProvider.AuthURL,
			Timeout:     baseCfg.TokenProvider.Timeout,
			Headers:     baseCfg.TokenProvider.Headers,
			QueryParams: baseCfg.TokenProvider.QueryParams,
		},
	}

	logger.Debug("YAML config mapping complete",
		"instance_id", cfg.InstanceID,
		"state_driver", cfg.State.Driver,
		"delivery_tracking", cfg.DeliveryTracking,
	)
	return cfg, nil
}
