package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds global settings for toolhost. Server records live separately
// in the servers file (see ServerStore).
type Config struct {
	Timeouts    TimeoutsConfig `mapstructure:"timeouts"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	ServersFile string         `mapstructure:"servers_file"`
	Concurrency int            `mapstructure:"concurrency"`
}

// TimeoutsConfig holds the orchestrator's wait bounds.
type TimeoutsConfig struct {
	Request      time.Duration `mapstructure:"request"`
	StartupGrace time.Duration `mapstructure:"startup_grace"`
	Warmup       time.Duration `mapstructure:"warmup"`
	GracefulStop time.Duration `mapstructure:"graceful_stop"`
	ForcedStop   time.Duration `mapstructure:"forced_stop"`
}

// LoggingConfig controls the default log sink.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Timeouts: TimeoutsConfig{
			Request:      15 * time.Second,
			StartupGrace: 2500 * time.Millisecond,
			Warmup:       3 * time.Second,
			GracefulStop: 5 * time.Second,
			ForcedStop:   3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Concurrency: 4,
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("timeouts.request", cfg.Timeouts.Request)
	v.SetDefault("timeouts.startup_grace", cfg.Timeouts.StartupGrace)
	v.SetDefault("timeouts.warmup", cfg.Timeouts.Warmup)
	v.SetDefault("timeouts.graceful_stop", cfg.Timeouts.GracefulStop)
	v.SetDefault("timeouts.forced_stop", cfg.Timeouts.ForcedStop)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("servers_file", cfg.ServersFile)
	v.SetDefault("concurrency", cfg.Concurrency)
}

// LoadConfig loads settings from config.{json,yaml,yml} in the data directory.
// Falls back to defaults when no file exists. TOOLHOST_* environment variables
// override both, with nested keys joined by underscores
// (TOOLHOST_TIMEOUTS_REQUEST=5s).
func LoadConfig(dataDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("toolhost")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := findConfigFile(dataDir); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.ServersFile == "" {
		cfg.ServersFile = ServersPath(dataDir)
	} else if !filepath.IsAbs(cfg.ServersFile) {
		cfg.ServersFile = filepath.Join(dataDir, cfg.ServersFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"timeouts.request", c.Timeouts.Request},
		{"timeouts.graceful_stop", c.Timeouts.GracefulStop},
		{"timeouts.forced_stop", c.Timeouts.ForcedStop},
	}
	for _, check := range checks {
		if check.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", check.name, check.d)
		}
	}
	if c.Timeouts.StartupGrace < 0 || c.Timeouts.Warmup < 0 {
		return fmt.Errorf("timeouts.startup_grace and timeouts.warmup cannot be negative")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}

func findConfigFile(dataDir string) string {
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		p := filepath.Join(dataDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
