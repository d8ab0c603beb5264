package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/varunnarsana/stratus/internal/daemon"
)

var (
	daemonManifest string
	daemonInterval time.Duration
	daemonListen   string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled drift detection unattended",
	Long: `Run stratus as a long-lived process: a drift check on every tick,
Prometheus metrics on /metrics and a health probe on /healthz.
The manifest is re-read each tick, so edits land without a restart.
Applies stay human-driven; the daemon only watches and reports.`,
	Example: `  stratus daemon                        # Check every 15m (config default)
  stratus daemon --interval 5m          # Faster cadence
  stratus daemon --listen :9102         # Custom metrics address`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVarP(&daemonManifest, "file", "f", "stratus.yaml", "Manifest path")
	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Drift check interval (default from config)")
	daemonCmd.Flags().StringVar(&daemonListen, "listen", "", "Metrics/health listen address (default from config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, _, err := loadRunSetup(daemonManifest)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	interval := daemonInterval
	if interval <= 0 {
		interval = cfg.Drift.Interval
	}
	listen := daemonListen
	if listen == "" {
		listen = cfg.Telemetry.MetricsAddr
	}

	d, err := daemon.New(daemon.Config{
		Workspace:    cfg.Workspace,
		ManifestPath: daemonManifest,
		Interval:     interval,
		ListenAddr:   listen,
	}, rt.engine)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
