// Package config loads application configuration from an optional TOML file
// plus FINSYNC_-prefixed environment overrides.
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

// Config holds application configuration.
type Config struct {
	Database  DatabaseConfig
	Sync      SyncConfig
	Embedding EmbeddingConfig
	Notion    NotionConfig
	Analytics AnalyticsConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// SyncConfig tunes the scheduler and coordinator.
type SyncConfig struct {
	Interval         time.Duration
	TickBudget       time.Duration
	Workers          int
	QueueBuffer      int
	LookbackDays     int
	FailureThreshold int
}

// EmbeddingConfig selects the embedding backend and classifier model file.
type EmbeddingConfig struct {
	// Provider is "gemini" or "none" (rule stage only, no vectors).
	Provider string
	Model    string
	// ModelURI points at the category model definition, a local path or a
	// gs:// URI. Empty uses the built-in taxonomy.
	ModelURI string
}

// NotionConfig enables the Notion sync-activity notifier when both fields
// are set.
type NotionConfig struct {
	Token      string
	DatabaseID string
}

// AnalyticsConfig enables the BigQuery sync-run sink when ProjectID is set.
type AnalyticsConfig struct {
	ProjectID string
	Dataset   string
	Table     string
}

// Load reads configuration from file and env. Env var overrides use prefix
// FINSYNC_, e.g. FINSYNC_SYNC_WORKERS=8.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "finance-sync", "finance.db"))
	v.SetDefault("sync.interval", "1h")
	v.SetDefault("sync.tick_budget", "10m")
	v.SetDefault("sync.workers", 5)
	v.SetDefault("sync.queue_buffer", 100)
	v.SetDefault("sync.lookback_days", 90)
	v.SetDefault("sync.failure_threshold", 3)
	v.SetDefault("embedding.provider", "gemini")
	v.SetDefault("embedding.model", "gemini-embedding-001")
	v.SetDefault("embedding.model_uri", "")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
	v.SetDefault("analytics.project_id", "")
	v.SetDefault("analytics.dataset", "finance")
	v.SetDefault("analytics.table", "sync_runs")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("FINSYNC_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "finance-sync"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FINSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults + env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	cfg := Config{
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Sync: SyncConfig{
			Interval:         v.GetDuration("sync.interval"),
			TickBudget:       v.GetDuration("sync.tick_budget"),
			Workers:          v.GetInt("sync.workers"),
			QueueBuffer:      v.GetInt("sync.queue_buffer"),
			LookbackDays:     v.GetInt("sync.lookback_days"),
			FailureThreshold: v.GetInt("sync.failure_threshold"),
		},
		Embedding: EmbeddingConfig{
			Provider: v.GetString("embedding.provider"),
			Model:    v.GetString("embedding.model"),
			ModelURI: v.GetString("embedding.model_uri"),
		},
		Notion: NotionConfig{
			Token:      v.GetString("notion.token"),
			DatabaseID: v.GetString("notion.database_id"),
		},
		Analytics: AnalyticsConfig{
			ProjectID: v.GetString("analytics.project_id"),
			Dataset:   v.GetString("analytics.dataset"),
			Table:     v.GetString("analytics.table"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("config: sync.interval must be positive")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("config: sync.workers must be positive")
	}
	if c.Sync.LookbackDays <= 0 {
		return fmt.Errorf("config: sync.lookback_days must be positive")
	}
	switch c.Embedding.Provider {
	case "gemini", "none":
	default:
		return fmt.Errorf("config: unknown embedding.provider %q", c.Embedding.Provider)
	}
	return nil
}
