// Package config содержит логику чтения конфигурации сервиса лояльности.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса лояльности.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	RedisAddress string `env:"REDIS_ADDRESS"`
	AuthSecret   string `env:"AUTH_SECRET"`

	AllowDuplicateEmail bool   `env:"ALLOW_DUPLICATE_EMAIL" envDefault:"false"`
	AllowDuplicatePhone bool   `env:"ALLOW_DUPLICATE_PHONE" envDefault:"false"`
	PointsPerReal       string `env:"POINTS_PER_REAL" envDefault:"1"`
	MinPurchaseValue    string `env:"MIN_PURCHASE_VALUE" envDefault:"0"`

	PointsExpirationDays    int           `env:"POINTS_EXPIRATION_DAYS" envDefault:"0"`
	ExpirationSweepInterval time.Duration `env:"EXPIRATION_SWEEP_INTERVAL" envDefault:"1h"`
	SystemBranchID          string        `env:"SYSTEM_BRANCH_ID" envDefault:"matriz"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, empty for in-memory storage")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for coupon reservation")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing operator tokens")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SystemBranchID == "" {
		cfg.SystemBranchID = "matriz"
	}

	return cfg, nil
}
