package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config defines credits service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"CREDITS_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"CREDITS_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"CREDITS_REDIS_ADDR"`
		Password string `yaml:"password" env:"CREDITS_REDIS_PASSWORD"`
	} `yaml:"redis"`
	JWT struct {
		Secret string `yaml:"secret" env:"CREDITS_JWT_SECRET"`
	} `yaml:"jwt"`
	Ledger struct {
		SystemPackageID string `yaml:"systemPackageId" env:"CREDITS_SYSTEM_PACKAGE_ID"`
	} `yaml:"ledger"`
	Costs struct {
		CacheTTLSeconds int `yaml:"cacheTtlSeconds" env:"CREDITS_COST_CACHE_TTL"`
	} `yaml:"costs"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8084"
	cfg.Costs.CacheTTLSeconds = 300

	if err := hydrate(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	if _, err := cfg.SystemPackageID(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SystemPackageID parses the configured fallback package id. Grants without
// an explicit package are booked against this package, so it must be set.
func (c *Config) SystemPackageID() (uuid.UUID, error) {
	raw := strings.TrimSpace(c.Ledger.SystemPackageID)
	if raw == "" {
		return uuid.Nil, errors.New("config: system package id required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("config: parse system package id: %w", err)
	}
	return id, nil
}

// CostCacheTTL returns the action cost cache lifetime.
func (c *Config) CostCacheTTL() time.Duration {
	return time.Duration(c.Costs.CacheTTLSeconds) * time.Second
}

// HTTPAddress returns :port style string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8084"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
