package drift

import (
	"fmt"
	"sort"
	"time"

	"github.com/varunnarsana/stratus/diff"
	"github.com/varunnarsana/stratus/types"
)

// Severity grades how alarming a finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// FindingType names the shape of divergence.
type FindingType string

const (
	// FindingMissing: the store records the resource but the provider
	// no longer sees it.
	FindingMissing FindingType = "missing"
	// FindingDegraded: the provider reports the resource unhealthy.
	FindingDegraded FindingType = "degraded"
	// FindingAttributes: remote attributes differ from the recorded
	// observed state.
	FindingAttributes FindingType = "attributes"
	// FindingUntracked: the resource exists remotely but the store has
	// no record of an apply creating it.
	FindingUntracked FindingType = "untracked"
)

// Finding is one resource's divergence from its recorded state.
type Finding struct {
	ResourceID string        `json:"resource_id"`
	Kind       types.Kind    `json:"kind"`
	Type       FindingType   `json:"type"`
	Severity   Severity      `json:"severity"`
	Detail     string        `json:"detail"`
	Fields     []diff.Change `json:"fields,omitempty"`
	DetectedAt time.Time     `json:"detected_at"`
}

// Report is the outcome of one detection pass over a declared graph.
// Advisory output: producing a report changes nothing anywhere.
type Report struct {
	Workspace    string    `json:"workspace"`
	StateVersion int64     `json:"state_version"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Checked      int       `json:"checked"`
	Findings     []Finding `json:"findings,omitempty"`
}

// Clean reports whether the pass found no divergence.
func (r *Report) Clean() bool {
	return len(r.Findings) == 0
}

// Worst returns the highest severity present, or "" for a clean report.
func (r *Report) Worst() Severity {
	var worst Severity
	for _, f := range r.Findings {
		if f.Severity.rank() > worst.rank() {
			worst = f.Severity
		}
	}
	return worst
}

// CountBySeverity tallies findings per severity level.
func (r *Report) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

// sortFindings orders findings worst first, ties by resource id, so a
// report for the same fleet always reads the same way.
func sortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity.rank() != findings[j].Severity.rank() {
			return findings[i].Severity.rank() > findings[j].Severity.rank()
		}
		return findings[i].ResourceID < findings[j].ResourceID
	})
}

// InFlightError means the pass was skipped because an apply holds the
// workspace lock. No provider call was made; the next scheduled pass
// will retry.
type InFlightError struct {
	Holder     string
	Operation  string
	AcquiredAt time.Time
}

func (e *InFlightError) Error() string {
	return fmt.Sprintf("apply in flight since %s (holder %s, operation %s), drift check skipped",
		e.AcquiredAt.Format(time.RFC3339), e.Holder, e.Operation)
}
