package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/varunnarsana/stratus/types"
)

var (
	destroyManifest    string
	destroyAutoApprove bool
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Delete everything the workspace manages",
	Long: `Plan and execute the removal of every resource recorded for the
workspace, in reverse dependency order: dependents go before the
resources they depend on. The manifest is only read to settle which
workspace is meant; its resources are not consulted.`,
	Example: `  stratus destroy                       # Review, confirm, tear down
  stratus destroy --auto-approve -w staging`,
	RunE: runDestroy,
}

func init() {
	rootCmd.AddCommand(destroyCmd)

	destroyCmd.Flags().StringVarP(&destroyManifest, "file", "f", "stratus.yaml", "Manifest path")
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip the confirmation prompt")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, _, err := loadRunSetup(destroyManifest)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	result, err := rt.engine.Destroy(ctx, cfg.Workspace, reviewPlan(destroyAutoApprove))
	if err != nil {
		return err
	}

	renderRun(os.Stdout, result)
	if result.Status == types.RunPartialFailure {
		return errPartialFailure
	}
	return nil
}
