// Package config provides configuration management for the scan engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Exit     ExitConfig     `mapstructure:"exit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DatabaseConfig holds market-data store configuration.
type DatabaseConfig struct {
	Path      string `mapstructure:"path"`
	Timeframe string `mapstructure:"timeframe"`
}

// ScanConfig holds orchestrator configuration.
type ScanConfig struct {
	BatchSize  int    `mapstructure:"batch_size"`
	MaxSignals int    `mapstructure:"max_signals"`
	WarmupBars int    `mapstructure:"warmup_bars"`
	TempDir    string `mapstructure:"temp_dir"`
}

// WorkerConfig holds detector worker configuration.
type WorkerConfig struct {
	Command         string        `mapstructure:"command"`
	Args            []string      `mapstructure:"args"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
}

// ExitConfig holds exit-simulation configuration.
type ExitConfig struct {
	Template string `mapstructure:"template"`
}

// MetricsConfig holds the optional metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/barscan"
	}
	return filepath.Join(home, ".config", "barscan")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(DefaultConfigDir(), "bars.db"))
	v.SetDefault("database.timeframe", "1min")
	v.SetDefault("scan.batch_size", 5)
	v.SetDefault("scan.max_signals", 0)
	v.SetDefault("scan.warmup_bars", 30)
	v.SetDefault("scan.temp_dir", os.TempDir())
	v.SetDefault("worker.ready_timeout", 10*time.Second)
	v.SetDefault("worker.response_timeout", 120*time.Second)
	v.SetDefault("exit.template", "gap-fill")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9187")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BARSCAN_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BARSCAN_WORKER_COMMAND"); v != "" {
		cfg.Worker.Command = v
	}
	if v := os.Getenv("BARSCAN_TEMPLATE"); v != "" {
		cfg.Exit.Template = v
	}
	if v := os.Getenv("BARSCAN_TEMP_DIR"); v != "" {
		cfg.Scan.TempDir = v
	}
	if v := os.Getenv("BARSCAN_MAX_SIGNALS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.MaxSignals = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Scan.BatchSize <= 0 {
		return fmt.Errorf("scan batch_size must be positive")
	}
	if c.Scan.MaxSignals < 0 {
		return fmt.Errorf("scan max_signals must be non-negative")
	}
	if c.Scan.WarmupBars < 1 {
		return fmt.Errorf("scan warmup_bars must be at least 1")
	}
	if c.Worker.ReadyTimeout < 0 || c.Worker.ResponseTimeout < 0 {
		return fmt.Errorf("worker timeouts must be non-negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr required when metrics enabled")
	}
	return nil
}
