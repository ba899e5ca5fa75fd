// Package config loads the settings of a push notifications client from YAML
// and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type StateDriver string

const (
	StateSQLite StateDriver = "sqlite"
	StateMemory StateDriver = "memory"
)

type StateConfig struct {
	Driver StateDriver
	Path   string
}

type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type TokenProviderConfig struct {
	AuthURL     string
	Timeout     time.Duration
	Headers     map[string]string
	QueryParams map[string]string
}

// Config is the validated client configuration.
type Config struct {
	InstanceID string

	// BaseURL overrides the hosted device API, e.g. to target the dev server.
	BaseURL          string
	ReportingBaseURL string

	// DeviceToken is the messaging token to register with, when known up front.
	DeviceToken string

	// DeliveryTracking enables delivery and open receipts. Off by default.
	DeliveryTracking bool

	State         StateConfig
	Retry         RetryConfig
	TokenProvider TokenProviderConfig
}

const (
	DefaultInitialInterval      = 200 * time.Millisecond
	DefaultMaxInterval          = 32 * time.Second
	DefaultTokenProviderTimeout = 60 * time.Second
)

// UpdateConfigWithEnvOverrides applies environment variables, defaults and
// final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dst = val
		}
	}
	override("PUSHNOTIFICATIONS_INSTANCE_ID", &cfg.InstanceID)
	override("PUSHNOTIFICATIONS_BASE_URL", &cfg.BaseURL)
	override("PUSHNOTIFICATIONS_REPORTING_BASE_URL", &cfg.ReportingBaseURL)
	override("PUSHNOTIFICATIONS_DEVICE_TOKEN", &cfg.DeviceToken)
	override("PUSHNOTIFICATIONS_STATE_PATH", &cfg.State.Path)
	override("PUSHNOTIFICATIONS_AUTH_URL", &cfg.TokenProvider.AuthURL)

	if val := os.Getenv("PUSHNOTIFICATIONS_STATE_DRIVER"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSHNOTIFICATIONS_STATE_DRIVER", "source", "env")
		cfg.State.Driver = StateDriver(val)
	}
	if val := os.Getenv("PUSHNOTIFICATIONS_DELIVERY_TRACKING"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			logger.Debug("Overriding config value", "key", "PUSHNOTIFICATIONS_DELIVERY_TRACKING", "source", "env")
			cfg.DeliveryTracking = enabled
		}
	}
	if val := os.Getenv("PUSHNOTIFICATIONS_TOKEN_PROVIDER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			cfg.TokenProvider.Timeout = d
		}
	}

	// Final Validation
	if cfg.InstanceID == "" {
		return nil, fmt.Errorf("instance_id is required (set via YAML or PUSHNOTIFICATIONS_INSTANCE_ID env var)")
	}

	switch cfg.State.Driver {
	case "":
		cfg.State.Driver = StateSQLite
	case StateSQLite, StateMemory:
	default:
		return nil, fmt.Errorf("unknown state driver %q (want %q or %q)", cfg.State.Driver, StateSQLite, StateMemory)
	}
	if cfg.State.Driver == StateSQLite && cfg.State.Path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		cfg.State.Path = filepath.Join(dir, "pushnotifications", cfg.InstanceID+".db")
	}

	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = DefaultInitialInterval
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = DefaultMaxInterval
	}
	if cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return nil, fmt.Errorf("retry max_interval %s is below initial_interval %s", cfg.Retry.MaxInterval, cfg.Retry.InitialInterval)
	}
	if cfg.TokenProvider.Timeout <= 0 {
		cfg.TokenProvider.Timeout = DefaultTokenProviderTimeout
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
