// Package config holds the engine configuration for a workspace.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// State backends.
const (
	BackendLocal    = "local"
	BackendDynamoDB = "dynamodb"
)

// Config is the root configuration structure.
type Config struct {
	Version   string          `yaml:"version"`
	Workspace string          `yaml:"workspace"`
	Provider  ProviderConfig  `yaml:"provider"`
	State     StateConfig     `yaml:"state"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Drift     DriftConfig     `yaml:"drift"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	WAL       WALConfig       `yaml:"wal"`
}

// ProviderConfig selects and configures the cloud provider.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Region  string `yaml:"region"`
	Profile string `yaml:"profile,omitempty"`
}

// StateConfig selects the state backend.
type StateConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"`  // local backend
	Table   string `yaml:"table,omitempty"` // dynamodb backend
}

// ExecutorConfig tunes wave execution and the retry policy.
type ExecutorConfig struct {
	Concurrency      int    `yaml:"concurrency"`
	MaxAttempts      int    `yaml:"max_attempts"`
	BaseDelayStr     string `yaml:"base_delay"`
	MaxDelayStr      string `yaml:"max_delay"`
	ActionTimeoutStr string `yaml:"action_timeout"`

	BaseDelay     time.Duration `yaml:"-"`
	MaxDelay      time.Duration `yaml:"-"`
	ActionTimeout time.Duration `yaml:"-"`
}

// DriftConfig tunes the drift daemon.
type DriftConfig struct {
	IntervalStr string        `yaml:"interval"`
	Interval    time.Duration `yaml:"-"`
}

// PolicyConfig points at the rego policy directory. Empty means no
// policy gate.
type PolicyConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WALConfig holds apply-journal settings.
type WALConfig struct {
	Dir         string `yaml:"dir"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	KeepRotated int    `yaml:"keep_rotated"`
}

// Default returns the configuration used when no file is given. The
// memory provider and a local state file keep a bare invocation safe:
// nothing reaches a real control plane without explicit opt-in.
func Default() *Config {
	cfg := defaultValues()
	if err := parseDurations(cfg); err != nil {
		panic(err) // defaults are constants; a parse failure is a bug
	}
	return cfg
}

// Load reads and parses a YAML config file, filling defaults for
// omitted fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := defaultValues()
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Workspace == "" {
		cfg.Workspace = def.Workspace
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = def.Provider.Name
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = def.State.Backend
	}
	if cfg.State.Backend == BackendLocal && cfg.State.Path == "" {
		cfg.State.Path = def.State.Path
	}
	if cfg.Executor.Concurrency == 0 {
		cfg.Executor.Concurrency = def.Executor.Concurrency
	}
	if cfg.Executor.MaxAttempts == 0 {
		cfg.Executor.MaxAttempts = def.Executor.MaxAttempts
	}
	if cfg.Executor.BaseDelayStr == "" {
		cfg.Executor.BaseDelayStr = def.Executor.BaseDelayStr
	}
	if cfg.Executor.MaxDelayStr == "" {
		cfg.Executor.MaxDelayStr = def.Executor.MaxDelayStr
	}
	if cfg.Executor.ActionTimeoutStr == "" {
		cfg.Executor.ActionTimeoutStr = def.Executor.ActionTimeoutStr
	}
	if cfg.Drift.IntervalStr == "" {
		cfg.Drift.IntervalStr = def.Drift.IntervalStr
	}
	if cfg.Telemetry.MetricsAddr == "" {
		cfg.Telemetry.MetricsAddr = def.Telemetry.MetricsAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.WAL.Dir == "" {
		cfg.WAL.Dir = def.WAL.Dir
	}
	if cfg.WAL.MaxSizeMB == 0 {
		cfg.WAL.MaxSizeMB = def.WAL.MaxSizeMB
	}
	if cfg.WAL.KeepRotated == 0 {
		cfg.WAL.KeepRotated = def.WAL.KeepRotated
	}
}

// defaultValues is Default without the recursion into applyDefaults.
func defaultValues() *Config {
	return &Config{
		Version:   "1",
		Workspace: "default",
		Provider:  ProviderConfig{Name: "memory"},
		State:     StateConfig{Backend: BackendLocal, Path: ".stratus/state.db"},
		Executor: ExecutorConfig{
			Concurrency:      4,
			MaxAttempts:      4,
			BaseDelayStr:     "500ms",
			MaxDelayStr:      "8s",
			ActionTimeoutStr: "2m",
		},
		Drift:     DriftConfig{IntervalStr: "15m"},
		Telemetry: TelemetryConfig{Insecure: true, MetricsAddr: ":9090"},
		Log:       LogConfig{Level: "info", Format: "console"},
		WAL:       WALConfig{Dir: ".stratus/wal", MaxSizeMB: 64, KeepRotated: 5},
	}
}

func applyEnvOverrides(cfg *Config) {
	if ws := os.Getenv("STRATUS_WORKSPACE"); ws != "" {
		cfg.Workspace = ws
	}
	if region := os.Getenv("STRATUS_REGION"); region != "" {
		cfg.Provider.Region = region
	}
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Executor.BaseDelay, err = time.ParseDuration(cfg.Executor.BaseDelayStr); err != nil {
		return fmt.Errorf("parse executor.base_delay %q: %w", cfg.Executor.BaseDelayStr, err)
	}
	if cfg.Executor.MaxDelay, err = time.ParseDuration(cfg.Executor.MaxDelayStr); err != nil {
		return fmt.Errorf("parse executor.max_delay %q: %w", cfg.Executor.MaxDelayStr, err)
	}
	if cfg.Executor.ActionTimeout, err = time.ParseDuration(cfg.Executor.ActionTimeoutStr); err != nil {
		return fmt.Errorf("parse executor.action_timeout %q: %w", cfg.Executor.ActionTimeoutStr, err)
	}
	if cfg.Drift.Interval, err = time.ParseDuration(cfg.Drift.IntervalStr); err != nil {
		return fmt.Errorf("parse drift.interval %q: %w", cfg.Drift.IntervalStr, err)
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if c.Provider.Name == "" {
		return fmt.Errorf("provider.name is required")
	}
	if c.Provider.Name == "aws" && c.Provider.Region == "" {
		return fmt.Errorf("provider.region is required for the aws provider")
	}
	switch c.State.Backend {
	case BackendLocal:
		if c.State.Path == "" {
			return fmt.Errorf("state.path is required for the local backend")
		}
	case BackendDynamoDB:
		if c.State.Table == "" {
			return fmt.Errorf("state.table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.State.Backend)
	}
	if c.Executor.Concurrency < 1 {
		return fmt.Errorf("executor.concurrency must be at least 1 (got %d)", c.Executor.Concurrency)
	}
	if c.Executor.MaxAttempts < 1 {
		return fmt.Errorf("executor.max_attempts must be at least 1 (got %d)", c.Executor.MaxAttempts)
	}
	if c.Executor.BaseDelay <= 0 || c.Executor.MaxDelay < c.Executor.BaseDelay {
		return fmt.Errorf("executor delays out of range: base %s, max %s", c.Executor.BaseDelay, c.Executor.MaxDelay)
	}
	if c.Drift.Interval < time.Minute {
		return fmt.Errorf("drift.interval must be at least 1m (got %s)", c.Drift.Interval)
	}
	return nil
}
