// Package config содержит логику чтения конфигурации маркетплейса.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultOrigin         = "http://localhost:5173"
	defaultStorageDir     = "storage/workflows"
	defaultMaxUploadBytes = 50 << 20
)

// Config содержит параметры конфигурации маркетплейса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	JWTSecret   string `env:"JWT_SECRET"`
	Origin      string `env:"ORIGIN"`
	StorageDir  string `env:"STORAGE_DIR"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
}

// PaymentsEnabled сообщает, настроен ли внешний платёжный провайдер.
func (c *Config) PaymentsEnabled() bool {
	return c.StripeSecretKey != ""
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
	envJWTSecret := cfg.JWTSecret
	envOrigin := cfg.Origin
	envStorageDir := cfg.StorageDir

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for auth tokens")
	flag.StringVar(&cfg.Origin, "o", defaultOrigin, "public origin used for payment redirects")
	flag.StringVar(&cfg.StorageDir, "f", defaultStorageDir, "directory for uploaded artifacts")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envOrigin != "" {
		cfg.Origin = envOrigin
	}
	if envStorageDir != "" {
		cfg.StorageDir = envStorageDir
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.Origin == "" {
		cfg.Origin = defaultOrigin
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = defaultStorageDir
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	return cfg, nil
}
