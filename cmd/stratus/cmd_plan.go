package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	planManifest string
	planJSON     bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what apply would change",
	Long: `Compare the declared manifest against recorded and live state and
print the minimal change-set: which resources would be created,
updated or deleted, in dependency order, with the estimated monthly
cost delta and any policy verdicts. Nothing is mutated.`,
	Example: `  stratus plan                          # Plan against stratus.yaml
  stratus plan -f infra/prod.yaml       # Plan a specific manifest
  stratus plan -w staging               # Override the workspace
  stratus plan --json                   # Machine-readable output`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&planManifest, "file", "f", "stratus.yaml", "Manifest path")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "JSON output")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, m, err := loadRunSetup(planManifest)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	result, err := rt.engine.Plan(ctx, cfg.Workspace, m.Resources)
	if err != nil {
		return err
	}

	if planJSON {
		return printJSON(os.Stdout, planDocument(result))
	}
	renderPlan(os.Stdout, result)
	return nil
}
