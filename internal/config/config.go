// Package config loads fieldsync settings from a YAML file and
// FIELDSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of a fieldsync session.
type Config struct {
	// GatewayURL is the base URL of the answer gateway.
	GatewayURL string `mapstructure:"gateway_url"`

	// UserID identifies the session's user on the gateway.
	UserID string `mapstructure:"user_id"`

	// FormPath is the questionnaire definition YAML.
	FormPath string `mapstructure:"form_path"`

	// StorePath is the local answer database file.
	StorePath string `mapstructure:"store_path"`

	// SpoolDir receives JSON edit drops in daemon mode.
	SpoolDir string `mapstructure:"spool_dir"`

	// LogFile receives daemon logs; empty means stderr.
	LogFile string `mapstructure:"log_file"`

	// DashboardPort serves the WebSocket dashboard; 0 disables it.
	DashboardPort int `mapstructure:"dashboard_port"`

	Debounce         time.Duration `mapstructure:"debounce"`
	FeedbackDelay    time.Duration `mapstructure:"feedback_delay"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap"`
}

// Load reads configuration with the usual precedence: explicit file (if
// path is non-empty), then fieldsync.yaml in the working directory or
// ~/.config/fieldsync/, then FIELDSYNC_* environment variables on top.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("gateway_url", "http://localhost:3000")
	v.SetDefault("user_id", "")
	v.SetDefault("form_path", "form.yaml")
	v.SetDefault("store_path", defaultStorePath())
	v.SetDefault("spool_dir", "")
	v.SetDefault("log_file", "")
	v.SetDefault("dashboard_port", 0)
	v.SetDefault("debounce", 3*time.Second)
	v.SetDefault("feedback_delay", 300*time.Millisecond)
	v.SetDefault("retry_interval", 30*time.Second)
	v.SetDefault("snapshot_interval", 30*time.Second)
	v.SetDefault("backoff_base", 30*time.Second)
	v.SetDefault("backoff_cap", 5*time.Minute)

	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("fieldsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "fieldsync"))
		}

		// A missing default config is fine; env and defaults carry it.
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would misbehave silently.
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %v", c.Debounce)
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("backoff_cap %v must be at least backoff_base %v", c.BackoffCap, c.BackoffBase)
	}
	return nil
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fieldsync.db"
	}
	return filepath.Join(home, ".local", "share", "fieldsync", "answers.db")
}
