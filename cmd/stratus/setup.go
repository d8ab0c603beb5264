package main

import (
	"context"
	"fmt"

	"github.com/varunnarsana/stratus/config"
	"github.com/varunnarsana/stratus/cost"
	"github.com/varunnarsana/stratus/executor"
	"github.com/varunnarsana/stratus/manifest"
	"github.com/varunnarsana/stratus/orchestrator"
	"github.com/varunnarsana/stratus/policy"
	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/state"
	"github.com/varunnarsana/stratus/telemetry"
	"github.com/varunnarsana/stratus/wal"

	// Registered providers. Config selects one by name.
	_ "github.com/varunnarsana/stratus/providers/aws"
	_ "github.com/varunnarsana/stratus/providers/memory"
)

// loadConfig reads the engine config (or defaults) and applies the
// global flags on top.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
	}
	if workspaceFlag != "" {
		cfg.Workspace = workspaceFlag
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	telemetry.SetGlobalLevel(cfg.Log.Level)
	telemetry.SetGlobalFormat(cfg.Log.Format)
	return cfg, nil
}

// loadRunSetup loads config and manifest and settles which workspace
// the run targets before any backend opens. Precedence: --workspace
// flag, then the manifest's declaration, then the config.
func loadRunSetup(manifestPath string) (*config.Config, *manifest.Manifest, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, nil, err
	}
	if workspaceFlag == "" && m.Workspace != "" {
		cfg.Workspace = m.Workspace
	}
	return cfg, m, nil
}

// runtime is everything a command tears down afterwards.
type runtime struct {
	cfg     *config.Config
	engine  *orchestrator.Engine
	store   state.Store
	journal *wal.WAL
	otelOff func(context.Context) error
}

// buildRuntime assembles provider, state store and engine from the
// config. journaled controls whether a WAL file is opened: plan and
// state inspection have nothing to journal.
func buildRuntime(ctx context.Context, cfg *config.Config, journaled bool) (*runtime, error) {
	otelOff, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "stratus",
		ServiceVersion: version,
		Environment:    cfg.Workspace,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}

	rt := &runtime{cfg: cfg, otelOff: otelOff}

	provider, err := providers.GetProvider(cfg.Provider.Name, providers.ProviderConfig{
		Region:    cfg.Provider.Region,
		Profile:   cfg.Provider.Profile,
		Workspace: cfg.Workspace,
	})
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	rt.store, err = state.Open(cfg)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to open state: %w", err)
	}

	rt.engine = orchestrator.New(provider, rt.store).
		WithOptions(executorOptions(cfg)).
		WithMetrics(telemetry.Metrics).
		WithEstimator(cost.For(cfg.Provider.Name))

	if cfg.Policy.Dir != "" {
		gate := policy.NewEngine()
		if err := gate.LoadDir(ctx, cfg.Policy.Dir); err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
		rt.engine = rt.engine.WithGate(gate)
	}

	if journaled && cfg.WAL.Dir != "" {
		rt.journal, err = wal.OpenWithConfig(cfg.WAL.Dir, wal.Config{
			MaxFileSize: int64(cfg.WAL.MaxSizeMB) * 1024 * 1024,
			KeepRotated: cfg.WAL.KeepRotated,
		})
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		rt.engine = rt.engine.WithJournal(rt.journal)
	}

	return rt, nil
}

func (rt *runtime) Close(ctx context.Context) {
	if rt.journal != nil {
		_ = rt.journal.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
	if rt.otelOff != nil {
		_ = rt.otelOff(ctx)
	}
}

func executorOptions(cfg *config.Config) executor.Options {
	return executor.Options{
		Concurrency:   cfg.Executor.Concurrency,
		MaxAttempts:   cfg.Executor.MaxAttempts,
		BaseDelay:     cfg.Executor.BaseDelay,
		MaxDelay:      cfg.Executor.MaxDelay,
		ActionTimeout: cfg.Executor.ActionTimeout,
	}
}
