// Package config содержит логику чтения конфигурации сервиса migpoints.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса migpoints.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	SecretKey   string `env:"SECRET_KEY" envDefault:"migpoints-secret"`

	// CooldownWindow — минимальный интервал между повторными просмотрами
	// одной и той же рекламы одним пользователем.
	CooldownWindow time.Duration `env:"COOLDOWN_WINDOW" envDefault:"5m"`
	// MinWatchRatio — минимальная доля ожидаемой длительности, которую
	// нужно досмотреть для зачисления награды.
	MinWatchRatio float64 `env:"MIN_WATCH_RATIO" envDefault:"0.9"`
	// MaxAdReward — верхний предел награды за один просмотр, защита от
	// подделки заявленной награды.
	MaxAdReward float64 `env:"MAX_AD_REWARD" envDefault:"10"`

	AdsterraEnabled bool   `env:"ADSTERRA_ENABLED" envDefault:"true"`
	FallbackToDemo  bool   `env:"FALLBACK_TO_DEMO" envDefault:"true"`
	AdNetworkURL    string `env:"AD_NETWORK_URL"`
	AdNetworkKey    string `env:"AD_NETWORK_KEY"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"5s"`
	WatchRetention  time.Duration `env:"WATCH_RETENTION" envDefault:"720h"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.MinWatchRatio <= 0 || cfg.MinWatchRatio > 1 {
		return nil, fmt.Errorf("min watch ratio must be in (0, 1], got %v", cfg.MinWatchRatio)
	}
	if cfg.CooldownWindow <= 0 {
		return nil, fmt.Errorf("cooldown window must be positive, got %v", cfg.CooldownWindow)
	}

	return cfg, nil
}
