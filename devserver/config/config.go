package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type StorageDriver string

const (
	StorageMemory    StorageDriver = "memory"
	StorageFirestore StorageDriver = "firestore"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Config defines the *single*, authoritative configuration of the dev server.
type Config struct {
	ProjectID     string
	ListenAddr    string
	StorageDriver StorageDriver

	// JWTSecret verifies the HS256 tokens presented to PUT .../user.
	JWTSecret string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("STORAGE_DRIVER"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE_DRIVER", "source", "env")
		cfg.StorageDriver = StorageDriver(val)
	}
	if val := os.Getenv("JWT_SECRET"); val != "" {
		logger.Debug("Overriding config value", "key", "JWT_SECRET", "source", "env")
		cfg.JWTSecret = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	switch cfg.StorageDriver {
	case "":
		cfg.StorageDriver = StorageMemory
	case StorageMemory:
	case StorageFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for firestore storage (set via YAML or PROJECT_ID env var)")
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required (set via YAML or JWT_SECRET env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 10 * time.Minute
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
