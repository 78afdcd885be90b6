// Package config loads the orchestrator's process configuration from the
// environment, following the teacher's viper-based Load() shape
// (internal/config/config.go in cloudshipai-station) but scoped to the env
// vars spec.md §6 names.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        int
	LogLevel    string
	DatabaseURL string
	JWTSecret   string
	CORSOrigin  string
	DockerHost  string

	SandboxImage          string
	SandboxMemoryLimitMiB int
	SandboxCPULimit       float64

	ServerEncryptionKey string
	DataRoot            string

	JanitorInterval time.Duration
}

func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 8585)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "data/orchestrator.db")
	v.SetDefault("CORS_ORIGIN", "*")
	v.SetDefault("SANDBOX_IMAGE", "orchestrator/sandbox:latest")
	v.SetDefault("SANDBOX_MEMORY_LIMIT", 2048)
	v.SetDefault("SANDBOX_CPU_LIMIT", 1.0)
	v.SetDefault("DATA_ROOT", "data")
	v.SetDefault("JANITOR_INTERVAL_SECONDS", 300)

	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "JWT_SECRET", "CORS_ORIGIN",
		"DOCKER_HOST", "SANDBOX_IMAGE", "SANDBOX_MEMORY_LIMIT", "SANDBOX_CPU_LIMIT",
		"SERVER_ENCRYPTION_KEY", "DATA_ROOT", "JANITOR_INTERVAL_SECONDS",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env var %s: %w", key, err)
		}
	}

	cfg := &Config{
		Port:                  v.GetInt("PORT"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		CORSOrigin:            v.GetString("CORS_ORIGIN"),
		DockerHost:            v.GetString("DOCKER_HOST"),
		SandboxImage:          v.GetString("SANDBOX_IMAGE"),
		SandboxMemoryLimitMiB: v.GetInt("SANDBOX_MEMORY_LIMIT"),
		SandboxCPULimit:       v.GetFloat64("SANDBOX_CPU_LIMIT"),
		ServerEncryptionKey:   v.GetString("SERVER_ENCRYPTION_KEY"),
		DataRoot:              v.GetString("DATA_ROOT"),
		JanitorInterval:       time.Duration(v.GetInt("JANITOR_INTERVAL_SECONDS")) * time.Second,
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.ServerEncryptionKey == "" {
		return nil, fmt.Errorf("SERVER_ENCRYPTION_KEY is required")
	}

	return cfg, nil
}
