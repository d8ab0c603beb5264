package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/varunnarsana/stratus/orchestrator"
	"github.com/varunnarsana/stratus/types"
)

var (
	applyManifest    string
	applyAutoApprove bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Converge infrastructure onto the declared manifest",
	Long: `Plan the change-set, review it, and execute it wave by wave in
dependency order. Each outcome is persisted the moment it lands, so
an interrupted run can resume from recorded state.

Exit codes: 0 when every action succeeded, 1 when the run completed
with failures or skips, 2 when the run aborted before executing.`,
	Example: `  stratus apply                         # Review, confirm, converge
  stratus apply --auto-approve          # No confirmation prompt
  stratus apply -f infra/prod.yaml -w prod`,
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringVarP(&applyManifest, "file", "f", "stratus.yaml", "Manifest path")
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip the confirmation prompt")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, m, err := loadRunSetup(applyManifest)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	result, err := rt.engine.Apply(ctx, cfg.Workspace, m.Resources, reviewPlan(applyAutoApprove))
	if err != nil {
		return err
	}

	renderRun(os.Stdout, result)
	if result.Status == types.RunPartialFailure {
		return errPartialFailure
	}
	return nil
}

// reviewPlan shows the computed plan and, unless auto-approved, waits
// for an explicit "yes" on stdin.
func reviewPlan(autoApprove bool) orchestrator.ApprovalFunc {
	return func(ctx context.Context, result *orchestrator.PlanResult) (bool, error) {
		renderPlan(os.Stdout, result)
		if autoApprove {
			return true, nil
		}

		fmt.Print("\nProceed? Only 'yes' is accepted: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return false, fmt.Errorf("read approval: %w", err)
		}
		return strings.TrimSpace(line) == "yes", nil
	}
}
