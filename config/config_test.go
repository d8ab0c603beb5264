package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stratus.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
version: "1"
workspace: prod
provider:
  name: aws
  region: eu-west-1
state:
  backend: dynamodb
  table: stratus-state
executor:
  concurrency: 8
  max_attempts: 6
  base_delay: 250ms
  max_delay: 10s
  action_timeout: 5m
drift:
  interval: 30m
policy:
  dir: policies
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Workspace != "prod" {
		t.Errorf("Workspace = %q, want prod", cfg.Workspace)
	}
	if cfg.Provider.Name != "aws" || cfg.Provider.Region != "eu-west-1" {
		t.Errorf("Provider = %+v", cfg.Provider)
	}
	if cfg.State.Backend != BackendDynamoDB || cfg.State.Table != "stratus-state" {
		t.Errorf("State = %+v", cfg.State)
	}
	if cfg.Executor.Concurrency != 8 || cfg.Executor.MaxAttempts != 6 {
		t.Errorf("Executor = %+v", cfg.Executor)
	}
	if cfg.Executor.BaseDelay != 250*time.Millisecond {
		t.Errorf("BaseDelay = %s, want 250ms", cfg.Executor.BaseDelay)
	}
	if cfg.Executor.ActionTimeout != 5*time.Minute {
		t.Errorf("ActionTimeout = %s, want 5m", cfg.Executor.ActionTimeout)
	}
	if cfg.Drift.Interval != 30*time.Minute {
		t.Errorf("Drift.Interval = %s, want 30m", cfg.Drift.Interval)
	}
	if cfg.Policy.Dir != "policies" {
		t.Errorf("Policy.Dir = %q", cfg.Policy.Dir)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
workspace: staging
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Provider.Name != "memory" {
		t.Errorf("default provider = %q, want memory", cfg.Provider.Name)
	}
	if cfg.State.Backend != BackendLocal || cfg.State.Path != ".stratus/state.db" {
		t.Errorf("default state = %+v", cfg.State)
	}
	if cfg.Executor.Concurrency != 4 {
		t.Errorf("default concurrency = %d, want 4", cfg.Executor.Concurrency)
	}
	if cfg.Executor.MaxAttempts != 4 {
		t.Errorf("default max attempts = %d, want 4", cfg.Executor.MaxAttempts)
	}
	if cfg.Drift.Interval != 15*time.Minute {
		t.Errorf("default drift interval = %s, want 15m", cfg.Drift.Interval)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("default log = %+v", cfg.Log)
	}
	if cfg.WAL.Dir != ".stratus/wal" {
		t.Errorf("default wal dir = %q", cfg.WAL.Dir)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STRATUS_WORKSPACE", "ci-42")
	t.Setenv("STRATUS_REGION", "us-west-2")

	path := writeConfig(t, `
workspace: staging
provider:
  name: aws
  region: eu-west-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workspace != "ci-42" {
		t.Errorf("Workspace = %q, want env override ci-42", cfg.Workspace)
	}
	if cfg.Provider.Region != "us-west-2" {
		t.Errorf("Region = %q, want env override us-west-2", cfg.Provider.Region)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "aws without region",
			content: `
provider:
  name: aws
`,
		},
		{
			name: "unknown state backend",
			content: `
state:
  backend: etcd
`,
		},
		{
			name: "dynamodb without table",
			content: `
state:
  backend: dynamodb
`,
		},
		{
			name: "bad duration",
			content: `
executor:
  base_delay: soon
`,
		},
		{
			name: "max delay below base delay",
			content: `
executor:
  base_delay: 10s
  max_delay: 1s
`,
		},
		{
			name: "drift interval too small",
			content: `
drift:
  interval: 5s
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() succeeded on invalid config")
			}
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() config does not validate: %v", err)
	}
}
