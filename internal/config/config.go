package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres     = "postgres"
	DriverGormPostgres = "gorm-postgres"
	DriverSQLite       = "sqlite"
	DriverMemory       = "memory"
)

type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseDriver string `envconfig:"DATABASE_DRIVER"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"dukapos.db"`

	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	ReportCacheTTL time.Duration `envconfig:"REPORT_CACHE_TTL" default:"30s"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	GotenbergURL  string `envconfig:"GOTENBERG_URL"`
	CurrencyLabel string `envconfig:"CURRENCY_LABEL" default:"Ksh"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads a .env file when one exists, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = DriverMemory
		if cfg.DatabaseURL != "" {
			cfg.DatabaseDriver = DriverPostgres
		}
	}
	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverGormPostgres, DriverSQLite, DriverMemory:
	default:
		return Config{}, fmt.Errorf("config: unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if (cfg.DatabaseDriver == DriverPostgres || cfg.DatabaseDriver == DriverGormPostgres) && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required for the %s driver", cfg.DatabaseDriver)
	}
	if cfg.ReportCacheTTL < time.Second {
		cfg.ReportCacheTTL = 30 * time.Second
	}
	if cfg.AccessTokenTTL < time.Minute {
		cfg.AccessTokenTTL = 8 * time.Hour
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}
