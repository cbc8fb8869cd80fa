// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Models  ModelsConfig  `mapstructure:"models"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig names the service on pages and in logs.
type AppConfig struct {
	Name string `mapstructure:"name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ModelsConfig locates model definitions and workbooks.
type ModelsConfig struct {
	Dir string `mapstructure:"dir"`
}

// RunnerConfig governs the run queue and worker pool.
type RunnerConfig struct {
	Workers           int     `mapstructure:"workers"`
	QueueDepth        int     `mapstructure:"queue_depth"`
	RunTimeoutSeconds int     `mapstructure:"run_timeout_seconds"`
	MaxRunsPerSecond  float64 `mapstructure:"max_runs_per_second"`
	RunBurst          int     `mapstructure:"run_burst"`
}

// StorageConfig selects where result artifacts land.
type StorageConfig struct {
	// Backend is one of "memory", "local", "gcs".
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational run store. An empty DSN
// keeps everything in memory.
type DBConfig struct {
	DSN       string `mapstructure:"dsn"`
	RunsTable string `mapstructure:"runs_table"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EPIRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "epirunner")
	v.SetDefault("server.port", 8080)
	v.SetDefault("models.dir", "models")
	v.SetDefault("runner.workers", 2)
	v.SetDefault("runner.queue_depth", 64)
	v.SetDefault("runner.run_timeout_seconds", 60)
	v.SetDefault("runner.max_runs_per_second", 4)
	v.SetDefault("runner.run_burst", 8)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "results")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("db.runs_table", "runs")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Models.Dir == "" {
		return fmt.Errorf("models.dir must be set")
	}
	if c.Runner.Workers <= 0 {
		return fmt.Errorf("runner.workers must be > 0")
	}
	if c.Runner.QueueDepth <= 0 {
		return fmt.Errorf("runner.queue_depth must be > 0")
	}
	if c.Runner.RunTimeoutSeconds <= 0 {
		return fmt.Errorf("runner.run_timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RunBudget is the per-run wall clock limit.
func (c Config) RunBudget() time.Duration {
	return time.Duration(c.Runner.RunTimeoutSeconds) * time.Second
}
