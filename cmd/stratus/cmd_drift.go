package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	driftManifest string
	driftJSON     bool
)

var driftCmd = &cobra.Command{
	Use:   "drift-check",
	Short: "Report divergence between recorded and live state",
	Long: `Re-read every declared resource from the provider and compare it
with the last recorded observation. Findings are advisory: nothing
is mutated, and divergence from an apply still in flight is not
reported.

Exit codes: 0 clean, 1 drift found, 2 the check could not run.`,
	Example: `  stratus drift-check                   # Check against stratus.yaml
  stratus drift-check --json            # Machine-readable report
  stratus drift-check -f infra/prod.yaml -w prod`,
	RunE: runDriftCheck,
}

func init() {
	rootCmd.AddCommand(driftCmd)

	driftCmd.Flags().StringVarP(&driftManifest, "file", "f", "stratus.yaml", "Manifest path")
	driftCmd.Flags().BoolVar(&driftJSON, "json", false, "JSON output")
}

func runDriftCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, m, err := loadRunSetup(driftManifest)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	report, err := rt.engine.DriftCheck(ctx, cfg.Workspace, m.Resources)
	if err != nil {
		return err
	}

	if driftJSON {
		if err := printJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		renderDriftReport(os.Stdout, report)
	}

	if !report.Clean() {
		return errDriftDetected
	}
	return nil
}
