package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port       string `yaml:"port"`
	DBPath     string `yaml:"dbPath"`
	DuckDBPath string `yaml:"duckdbPath"`
	Workers    int    `yaml:"workers"`
	LogLevel   string `yaml:"logLevel"`

	ProviderURL     string        `yaml:"providerUrl"`
	ProviderToken   string        `yaml:"providerToken"`
	ProviderRPS     float64       `yaml:"providerRps"`
	ProviderTimeout time.Duration `yaml:"providerTimeout"`

	MarketTimezone       string `yaml:"marketTimezone"`
	TargetLookbackDays   int    `yaml:"targetLookbackDays"`
	UniverseLookbackDays int    `yaml:"universeLookbackDays"`
}

func defaults() Config {
	return Config{
		Port:                 "8080",
		DBPath:               "marketdata.db",
		DuckDBPath:           "marketdata.duckdb",
		Workers:              4,
		LogLevel:             "info",
		ProviderURL:          "https://api.tushare.pro",
		ProviderRPS:          3,
		ProviderTimeout:      30 * time.Second,
		MarketTimezone:       "Asia/Shanghai",
		TargetLookbackDays:   400,
		UniverseLookbackDays: 30,
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and then
// applies environment overrides on top.
func Load() Config {
	cfg, err := LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Warn("config file ignored", "error", err)
		cfg = defaults()
	}
	return applyEnv(cfg)
}

// LoadFile reads a YAML config file over the defaults. An empty path returns
// the defaults.
func LoadFile(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return defaults(), fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg Config) Config {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.DuckDBPath = getEnv("DUCKDB_PATH", cfg.DuckDBPath)
	cfg.Workers = getEnvInt("WORKERS", cfg.Workers)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.ProviderURL = getEnv("PROVIDER_URL", cfg.ProviderURL)
	cfg.ProviderToken = getEnv("TUSHARE_TOKEN", cfg.ProviderToken)
	cfg.ProviderRPS = getEnvFloat("PROVIDER_RPS", cfg.ProviderRPS)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	cfg.MarketTimezone = getEnv("MARKET_TIMEZONE", cfg.MarketTimezone)
	cfg.TargetLookbackDays = getEnvInt("TARGET_LOOKBACK_DAYS", cfg.TargetLookbackDays)
	cfg.UniverseLookbackDays = getEnvInt("UNIVERSE_LOOKBACK_DAYS", cfg.UniverseLookbackDays)
	return cfg
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Location resolves MarketTimezone, falling back to UTC when the zone is
// unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.MarketTimezone)
	if err != nil {
		slog.Warn("unknown market timezone, using UTC", "timezone", c.MarketTimezone, "error", err)
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
