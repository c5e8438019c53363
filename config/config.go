/*
Package config loads the service configuration.

PURPOSE:
  YAML file first, then environment-variable overrides (a .env file is
  honored when present), then defaults for anything still unset. The file
  is optional: a missing config path yields an all-defaults configuration,
  which is enough to run locally against a throwaway SQLite file.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	Recompute RecomputeConfig `yaml:"recompute"`
	Budget    BudgetConfig    `yaml:"budget"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StorageConfig controls where data is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// ForecastConfig tunes the maturity model and calibration.
type ForecastConfig struct {
	MaturityDays  int     `yaml:"maturity_days"`
	BaselineRatio float64 `yaml:"baseline_ratio"`
}

// RecomputeConfig tunes the recompute pipeline and its triggers.
type RecomputeConfig struct {
	CronSpec        string `yaml:"cron_spec"`
	TrailingDays    int    `yaml:"trailing_days"`
	DebounceSeconds int    `yaml:"debounce_seconds"`
	Workers         int    `yaml:"workers"`
}

// BudgetConfig tunes the spend recommendation.
type BudgetConfig struct {
	SpendGranularity string `yaml:"spend_granularity"` // decimal string, e.g. "10000"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path (optional) and applies env overrides and
// defaults. Env values win over YAML for the keys they cover.
func Load(path string) (*Config, error) {
	// Load .env if present (missing file is fine)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// DebounceDelay returns the debounce quiet period as a time.Duration.
func (c *Config) DebounceDelay() time.Duration {
	return time.Duration(c.Recompute.DebounceSeconds) * time.Second
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("RECOMPUTE_CRON"); v != "" {
		cfg.Recompute.CronSpec = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "margin.db"
	}
	if cfg.Forecast.MaturityDays <= 0 {
		cfg.Forecast.MaturityDays = 7
	}
	if cfg.Forecast.BaselineRatio <= 0 || cfg.Forecast.BaselineRatio > 1 {
		cfg.Forecast.BaselineRatio = 0.95
	}
	if cfg.Recompute.CronSpec == "" {
		cfg.Recompute.CronSpec = "10 * * * *"
	}
	if cfg.Recompute.TrailingDays <= 0 {
		cfg.Recompute.TrailingDays = 14
	}
	if cfg.Recompute.DebounceSeconds <= 0 {
		cfg.Recompute.DebounceSeconds = 30
	}
	if cfg.Recompute.Workers <= 0 {
		cfg.Recompute.Workers = 4
	}
	if cfg.Budget.SpendGranularity == "" {
		cfg.Budget.SpendGranularity = "10000"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
