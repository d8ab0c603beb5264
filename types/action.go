package types

import (
	"fmt"
	"time"
)

// Verb is the operation the plan engine decided for a resource.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
	VerbNoop   Verb = "noop"
)

// Valid reports whether v is a known verb.
func (v Verb) Valid() bool {
	switch v {
	case VerbCreate, VerbUpdate, VerbDelete, VerbNoop:
		return true
	}
	return false
}

// ChangeAction is one planned operation. Produced only by the plan
// engine, consumed only by the executor.
type ChangeAction struct {
	ResourceID string `json:"resource_id"`
	Verb       Verb   `json:"verb"`
	Reason     string `json:"reason"`
}

// Validate ensures the action is well formed before execution.
func (a *ChangeAction) Validate() error {
	if a.ResourceID == "" {
		return fmt.Errorf("change action has no resource id")
	}
	if !a.Verb.Valid() {
		return fmt.Errorf("change action for %s has unknown verb %q", a.ResourceID, a.Verb)
	}
	if a.Reason == "" {
		return fmt.Errorf("change action for %s has no reason", a.ResourceID)
	}
	return nil
}

// Executable reports whether the executor should attempt this action.
// Noops are carried for observability and never executed.
func (a *ChangeAction) Executable() bool {
	return a.Verb != VerbNoop
}

// Destructive reports whether the action removes a resource.
func (a *ChangeAction) Destructive() bool {
	return a.Verb == VerbDelete
}

// Outcome is the terminal result of one executed action.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// ApplyRecord is the execution trace of one action. One record exists
// for every executable action in a run, including skipped ones.
type ApplyRecord struct {
	ResourceID string    `json:"resource_id"`
	Verb       Verb      `json:"verb"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
}

// RunStatus summarizes a whole apply run.
type RunStatus string

const (
	RunSucceeded      RunStatus = "succeeded"
	RunPartialFailure RunStatus = "partial_failure"
)

// RunResult is the executor's report for one apply run: every action's
// final outcome, nothing unaccounted for.
type RunResult struct {
	Workspace  string        `json:"workspace"`
	Status     RunStatus     `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Records    []ApplyRecord `json:"records"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Noops      int           `json:"noops"`
}

// BuildRunResult derives counts and overall status from the records.
func BuildRunResult(workspace string, startedAt, finishedAt time.Time, records []ApplyRecord, noops int) RunResult {
	result := RunResult{
		Workspace:  workspace,
		Status:     RunSucceeded,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Records:    records,
		Noops:      noops,
	}
	for _, rec := range records {
		switch rec.Outcome {
		case OutcomeSucceeded:
			result.Succeeded++
		case OutcomeFailed:
			result.Failed++
		case OutcomeSkipped:
			result.Skipped++
		}
	}
	if result.Failed > 0 || result.Skipped > 0 {
		result.Status = RunPartialFailure
	}
	return result
}

// Record returns the apply record for a resource id, if present.
func (r *RunResult) Record(resourceID string) (ApplyRecord, bool) {
	for _, rec := range r.Records {
		if rec.ResourceID == resourceID {
			return rec, true
		}
	}
	return ApplyRecord{}, false
}
