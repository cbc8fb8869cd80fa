package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
app:
  name: epirunner-test
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
models:
  dir: ./testmodels
runner:
  workers: 4
  queue_depth: 128
  run_timeout_seconds: 45
  max_runs_per_second: 2.5
  run_burst: 5
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: artifacts
db:
  dsn: postgres://localhost/epirunner
  runs_table: model_runs
pubsub:
  project_id: proj
  topic_name: run-completed
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Name != "epirunner-test" {
		t.Fatalf("expected app name override, got %q", cfg.App.Name)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Models.Dir != "./testmodels" {
		t.Fatalf("expected models dir override, got %q", cfg.Models.Dir)
	}
	if cfg.Runner.Workers != 4 || cfg.Runner.QueueDepth != 128 {
		t.Fatalf("expected runner overrides to apply: %+v", cfg.Runner)
	}
	if cfg.Runner.MaxRunsPerSecond != 2.5 || cfg.Runner.RunBurst != 5 {
		t.Fatalf("expected throttle overrides to apply: %+v", cfg.Runner)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.DB.RunsTable != "model_runs" {
		t.Fatalf("expected runs table override, got %q", cfg.DB.RunsTable)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected development logging disabled")
	}
	if got := cfg.RunBudget(); got != 45*time.Second {
		t.Fatalf("expected run budget 45s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Models.Dir != "models" {
		t.Fatalf("expected default models dir, got %q", cfg.Models.Dir)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected default memory storage, got %q", cfg.Storage.Backend)
	}
	if cfg.Runner.Workers != 2 || cfg.Runner.QueueDepth != 64 {
		t.Fatalf("unexpected runner defaults: %+v", cfg.Runner)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Models:  ModelsConfig{Dir: "models"},
		Runner:  RunnerConfig{Workers: 1, QueueDepth: 8, RunTimeoutSeconds: 30},
		Storage: StorageConfig{Backend: "memory"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing models dir",
			cfg: func() Config {
				c := base
				c.Models.Dir = ""
				return c
			}(),
			want: "models.dir",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Runner.Workers = 0
				return c
			}(),
			want: "runner.workers",
		},
		{
			name: "invalid queue depth",
			cfg: func() Config {
				c := base
				c.Runner.QueueDepth = 0
				return c
			}(),
			want: "runner.queue_depth",
		},
		{
			name: "invalid run timeout",
			cfg: func() Config {
				c := base
				c.Runner.RunTimeoutSeconds = 0
				return c
			}(),
			want: "runner.run_timeout_seconds",
		},
		{
			name: "gcs backend missing bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "gcs"
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "tape"
				return c
			}(),
			want: "storage.backend",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
