package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/varunnarsana/stratus/config"
	"github.com/varunnarsana/stratus/state"
)

var (
	stateShowJSON    bool
	stateUnlockForce bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and repair workspace state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the recorded snapshot",
	Long: `Print the workspace's recorded state: snapshot version, lock, and
every tracked resource with its last observation. Read-only.`,
	Example: `  stratus state show
  stratus state show -w prod --json`,
	RunE: runStateShow,
}

var stateUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Break a stale workspace lock",
	Long: `Discard the workspace lock regardless of who holds it. Only for
recovering from a crashed apply: breaking the lock under a live run
invites two writers into the same state.`,
	Example: `  stratus state unlock --force`,
	RunE: runStateUnlock,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateUnlockCmd)

	stateShowCmd.Flags().BoolVar(&stateShowJSON, "json", false, "JSON output")
	stateUnlockCmd.Flags().BoolVar(&stateUnlockForce, "force", false, "Actually break the lock")
}

// openStore opens just the state backend. State inspection needs no
// provider and no journal.
func openStore() (*config.Config, state.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := state.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state: %w", err)
	}
	return cfg, st, nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	snap, err := st.Snapshot(ctx)
	if err != nil {
		return err
	}

	if stateShowJSON {
		return printJSON(os.Stdout, snap)
	}
	renderSnapshot(os.Stdout, cfg.Workspace, snap)
	return nil
}

func runStateUnlock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	snap, err := st.Snapshot(ctx)
	if err != nil {
		return err
	}
	if !snap.Locked() {
		fmt.Printf("Workspace %s is not locked.\n", cfg.Workspace)
		return nil
	}

	lock := snap.Lock
	if !stateUnlockForce {
		return fmt.Errorf("state locked by %s for %s since %s; re-run with --force to break it",
			lock.Holder, lock.Operation, lock.AcquiredAt.Format(time.RFC3339))
	}

	if err := st.BreakLock(ctx); err != nil {
		return err
	}
	fmt.Printf("🔓 Broke lock held by %s for %s (token %s)\n", lock.Holder, lock.Operation, lock.Token)
	return nil
}
