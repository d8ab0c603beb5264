package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/varunnarsana/stratus/cost"
	"github.com/varunnarsana/stratus/drift"
	"github.com/varunnarsana/stratus/orchestrator"
	"github.com/varunnarsana/stratus/policy"
	"github.com/varunnarsana/stratus/types"
)

func verbSymbol(v types.Verb) string {
	switch v {
	case types.VerbCreate:
		return "+"
	case types.VerbUpdate:
		return "~"
	case types.VerbDelete:
		return "-"
	default:
		return " "
	}
}

// renderPlan prints the human-readable change-set.
func renderPlan(w io.Writer, result *orchestrator.PlanResult) {
	p := result.Plan
	fmt.Fprintf(w, "📋 Plan: workspace %s (state v%d)\n", p.Workspace, result.StateVersion)

	if !p.HasChanges() {
		fmt.Fprintln(w, "\n✨ No changes. Infrastructure matches the declaration.")
		return
	}

	fmt.Fprintln(w)
	for _, action := range p.Actions {
		if action.Verb == types.VerbNoop {
			continue
		}
		fmt.Fprintf(w, "  %s %-6s %-24s %s\n", verbSymbol(action.Verb), action.Verb, action.ResourceID, action.Reason)
	}

	renderCost(w, result.Cost)
	renderGate(w, result.Gate)

	creates, updates, deletes, noops := p.Counts()
	fmt.Fprintf(w, "\nSummary: %d to create, %d to update, %d to delete, %d unchanged\n",
		creates, updates, deletes, noops)
}

func renderCost(w io.Writer, pc *cost.PlanCost) {
	if pc == nil || len(pc.Lines) == 0 {
		return
	}
	fmt.Fprintf(w, "\n💰 Monthly cost delta: %+.2f USD\n", pc.MonthlyDeltaUSD)
	for _, line := range pc.Lines {
		if line.DeltaUSD == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s %-24s %+.2f USD/mo\n", verbSymbol(types.Verb(line.Verb)), line.ResourceID, line.DeltaUSD)
	}
}

func renderGate(w io.Writer, gate *policy.GateResult) {
	if gate == nil {
		return
	}
	switch gate.Decision {
	case policy.DecisionAllow:
		fmt.Fprintln(w, "\n🛡  Policy: allowed")
	case policy.DecisionRequireApproval:
		fmt.Fprintln(w, "\n🛡  Policy: requires approval")
	case policy.DecisionDeny:
		fmt.Fprintln(w, "\n🛡  Policy: DENIED")
	}
	for _, action := range gate.Actions {
		if action.Decision == policy.DecisionAllow {
			continue
		}
		fmt.Fprintf(w, "  ! %s %s: %s\n", action.Verb, action.ResourceID, action.Reason)
	}
}

// renderRun prints the apply outcome, one line per non-success.
func renderRun(w io.Writer, result *types.RunResult) {
	elapsed := result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond)

	if result.Status == types.RunSucceeded {
		fmt.Fprintf(w, "\n🚀 Apply complete: %d succeeded, %d unchanged (%s)\n",
			result.Succeeded, result.Noops, elapsed)
		return
	}

	fmt.Fprintf(w, "\n⚠️  Apply finished with failures: %d succeeded, %d failed, %d skipped (%s)\n",
		result.Succeeded, result.Failed, result.Skipped, elapsed)
	for _, rec := range result.Records {
		switch rec.Outcome {
		case types.OutcomeFailed:
			fmt.Fprintf(w, "  ✗ %s %s: %s\n", rec.Verb, rec.ResourceID, rec.Error)
		case types.OutcomeSkipped:
			fmt.Fprintf(w, "  ↷ %s %s: %s\n", rec.Verb, rec.ResourceID, rec.Error)
		}
	}
}

// renderDriftReport prints findings worst first.
func renderDriftReport(w io.Writer, report *drift.Report) {
	fmt.Fprintf(w, "🔍 Drift check: workspace %s (state v%d), %d resource(s) checked\n",
		report.Workspace, report.StateVersion, report.Checked)

	if report.Clean() {
		fmt.Fprintln(w, "\n✨ No drift. Remote state matches the record.")
		return
	}

	fmt.Fprintln(w)
	for _, f := range report.Findings {
		fmt.Fprintf(w, "  [%s] %s (%s/%s): %s\n", f.Severity, f.ResourceID, f.Kind, f.Type, f.Detail)
		for _, change := range f.Fields {
			fmt.Fprintf(w, "      %s\n", change)
		}
	}

	counts := report.CountBySeverity()
	fmt.Fprintf(w, "\nFindings: %d total", len(report.Findings))
	for _, sev := range []drift.Severity{drift.SeverityCritical, drift.SeverityHigh, drift.SeverityMedium, drift.SeverityLow} {
		if n := counts[sev]; n > 0 {
			fmt.Fprintf(w, ", %d %s", n, sev)
		}
	}
	fmt.Fprintln(w)
}

// renderSnapshot prints the recorded state for a workspace.
func renderSnapshot(w io.Writer, workspace string, snap *types.StateSnapshot) {
	fmt.Fprintf(w, "🗂  Workspace %s: state version %d, %d resource(s)\n",
		workspace, snap.Version, len(snap.Resources))

	if snap.Locked() {
		lock := snap.Lock
		fmt.Fprintf(w, "🔒 Locked by %s for %s since %s (token %s)\n",
			lock.Holder, lock.Operation, lock.AcquiredAt.Format(time.RFC3339), lock.Token)
	}

	if len(snap.Resources) == 0 {
		return
	}

	ids := make([]string, 0, len(snap.Resources))
	for id := range snap.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(w)
	for _, id := range ids {
		entry := snap.Resources[id]
		fmt.Fprintf(w, "  %-24s %-13s %-8s last seen %s\n",
			id, entry.Kind, entry.ProviderStatus, entry.LastSeenAt.Format(time.RFC3339))
	}
}

// planDocument shapes a PlanResult for JSON output.
func planDocument(result *orchestrator.PlanResult) any {
	return struct {
		Workspace    string               `json:"workspace"`
		StateVersion int64                `json:"state_version"`
		Actions      []types.ChangeAction `json:"actions"`
		Cost         *cost.PlanCost       `json:"cost,omitempty"`
		Gate         *policy.GateResult   `json:"gate,omitempty"`
	}{
		Workspace:    result.Plan.Workspace,
		StateVersion: result.StateVersion,
		Actions:      result.Plan.Actions,
		Cost:         result.Cost,
		Gate:         result.Gate,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
