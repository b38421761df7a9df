package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string `env:"PORT" envDefault:"8080"`
	AllowedOrigin         string `env:"ALLOWED_ORIGIN" envDefault:"http://127.0.0.1:3000"`
	DatabaseURL           string `env:"DATABASE_URL"`
	RedisAddr             string `env:"REDIS_ADDR"`
	RedisPassword         string `env:"REDIS_PASSWORD"`
	RedisDB               int    `env:"REDIS_DB" envDefault:"0"`
	StoreID               string `env:"DEFAULT_STORE_ID" envDefault:"main-store"`
	AuthSecret            string `env:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"480"`
	ReportCacheTTLSeconds int    `env:"REPORT_CACHE_TTL_SECONDS" envDefault:"60"`
	ReportTimezone        string `env:"REPORT_TIMEZONE" envDefault:"Asia/Jakarta"`
	Gateway               GatewayConfig
}

type GatewayConfig struct {
	ServerKey        string `env:"GATEWAY_SERVER_KEY"`
	BaseURL          string `env:"GATEWAY_BASE_URL" envDefault:"https://api.sandbox.midtrans.com"`
	SnapURL          string `env:"GATEWAY_SNAP_URL" envDefault:"https://app.sandbox.midtrans.com"`
	RequireSignature bool   `env:"GATEWAY_REQUIRE_SIGNATURE" envDefault:"false"`
	TimeoutSeconds   int    `env:"GATEWAY_TIMEOUT_SECONDS" envDefault:"15"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] WARN: could not read .env: %v", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.ReportCacheTTLSeconds < 0 {
		cfg.ReportCacheTTLSeconds = 0
	}
	if cfg.Gateway.TimeoutSeconds < 1 {
		cfg.Gateway.TimeoutSeconds = 15
	}
	if _, err := time.LoadLocation(cfg.ReportTimezone); err != nil {
		return Config{}, fmt.Errorf("invalid REPORT_TIMEZONE %q: %w", cfg.ReportTimezone, err)
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// ReportLocation falls back to UTC for a zone that passed Load but is not
// available at call time.
func (c Config) ReportLocation() *time.Location {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}
