package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	cfgPath       string
	workspaceFlag string
	verbose       bool

	rootCmd = &cobra.Command{
		Use:   "stratus",
		Short: "Declarative Infrastructure Provisioning",
		Long: `Stratus - Declarative Infrastructure Provisioning

Stratus converges cloud infrastructure onto a declared manifest.
Describe resources and their dependencies once; plan shows the
minimal change-set, apply executes it in dependency order, and
drift-check reports when reality wanders from the record.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Sentinels for the non-fatal "finished, but not a full success"
// outcomes. Everything else non-nil is fatal.
var (
	errPartialFailure = errors.New("run completed with failures")
	errDriftDetected  = errors.New("drift detected")
)

// Execute runs the root command and maps the outcome to the process
// exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode grades an outcome: 0 converged or clean, 1 completed with
// failures or drift, 2 fatal (bad input, policy denial, held lock,
// provider failure, declined approval).
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errPartialFailure), errors.Is(err, errDriftDetected):
		return 1
	default:
		return 2
	}
}

func init() {
	rootCmd.SetVersionTemplate(`stratus {{.Version}} - Declarative Infrastructure Provisioning
`)
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Engine config file (defaults apply when omitted)")
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace to operate on (overrides config and manifest)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}
