// Package drift compares the recorded state of declared resources with
// what the provider reports right now. Findings are advisory: the
// detector never mutates remote state and never writes the store.
package drift

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/varunnarsana/stratus/diff"
	"github.com/varunnarsana/stratus/graph"
	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/state"
	"github.com/varunnarsana/stratus/telemetry"
	"github.com/varunnarsana/stratus/types"
	"github.com/varunnarsana/stratus/wal"
)

// Detector runs detection passes. Stateless between passes: every
// Detect call reads the store and the provider fresh.
type Detector struct {
	store    state.Store
	provider providers.CloudProvider
	journal  *wal.WAL
	metrics  *telemetry.EngineMetrics
	logger   *telemetry.Logger
	tracer   trace.Tracer
}

// NewDetector creates a detector over a store and a provider.
func NewDetector(store state.Store, provider providers.CloudProvider) *Detector {
	return &Detector{
		store:    store,
		provider: provider,
		logger:   telemetry.NewLogger("drift"),
		tracer:   otel.Tracer("drift"),
	}
}

// WithJournal records every finding in the apply journal.
func (d *Detector) WithJournal(journal *wal.WAL) *Detector {
	d.journal = journal
	return d
}

// WithMetrics attaches engine metrics.
func (d *Detector) WithMetrics(m *telemetry.EngineMetrics) *Detector {
	d.metrics = m
	return d
}

// Detect runs one pass over the declared graph. Resources are checked
// in creation order; findings come back worst first. Returns
// *InFlightError without touching the provider when an apply holds the
// workspace lock, since mid-apply divergence is expected, not drift.
func (d *Detector) Detect(ctx context.Context, workspace string, g *graph.Graph) (*Report, error) {
	ctx, span := d.tracer.Start(ctx, "drift.detect")
	defer span.End()
	started := time.Now()

	snap, err := d.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if snap.Locked() {
		return nil, &InFlightError{
			Holder:     snap.Lock.Holder,
			Operation:  snap.Lock.Operation,
			AcquiredAt: snap.Lock.AcquiredAt,
		}
	}

	report := &Report{
		Workspace:    workspace,
		StateVersion: snap.Version,
		StartedAt:    started,
	}

	for _, spec := range g.Specs() {
		finding, err := d.checkResource(ctx, snap, spec)
		if err != nil {
			return nil, err
		}
		report.Checked++
		if finding == nil {
			continue
		}
		report.Findings = append(report.Findings, *finding)

		d.logger.LogDriftDetected(ctx, finding.ResourceID, len(finding.Fields), string(finding.Severity))
		d.metrics.RecordDrift(ctx, string(finding.Severity))
		telemetry.RecordDriftEvent(span, finding.ResourceID, finding.Kind,
			string(finding.Type), string(finding.Severity), finding.Detail)
		if d.journal != nil {
			if err := d.journal.Append(wal.EntryDriftDetected, finding.ResourceID, finding); err != nil {
				d.logger.WithContext(ctx).Warn().Err(err).
					Str("resource_id", finding.ResourceID).
					Msg("journal append failed")
			}
		}
	}

	sortFindings(report.Findings)
	report.FinishedAt = time.Now()
	d.metrics.RecordDriftCheckDuration(ctx, report.FinishedAt.Sub(started).Seconds())

	d.logger.WithContext(ctx).Info().
		Str("workspace", workspace).
		Int("checked", report.Checked).
		Int("findings", len(report.Findings)).
		Str("operation", "drift_check").
		Msg("drift check complete")
	return report, nil
}

// checkResource compares one declared resource's recorded state with a
// live describe. A nil finding means no divergence.
func (d *Detector) checkResource(ctx context.Context, snap *types.StateSnapshot, spec types.ResourceSpec) (*Finding, error) {
	entry, tracked := snap.Resources[spec.ID]

	observed, err := d.provider.Describe(ctx, spec.Ref())
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", spec.ID, err)
	}

	finding := &Finding{
		ResourceID: spec.ID,
		Kind:       spec.Kind,
		DetectedAt: time.Now(),
	}

	switch {
	case !tracked && !observed.Present():
		// Never applied and not present: creation is the planner's
		// business, not drift.
		return nil, nil
	case !tracked:
		finding.Type = FindingUntracked
		finding.Severity = SeverityMedium
		finding.Detail = "resource exists remotely but has no state record"
		return finding, nil
	case !observed.Present():
		finding.Type = FindingMissing
		finding.Severity = SeverityCritical
		finding.Detail = "recorded resource no longer exists remotely"
		return finding, nil
	}

	fields := diff.Compare(entry.RemoteAttributes, observed.RemoteAttributes)

	if observed.ProviderStatus == types.StatusDegraded {
		finding.Type = FindingDegraded
		finding.Severity = SeverityHigh
		finding.Detail = "provider reports the resource degraded"
		finding.Fields = fields
		return finding, nil
	}

	if len(fields) == 0 {
		return nil, nil
	}
	finding.Type = FindingAttributes
	finding.Severity = worstFieldSeverity(fields)
	finding.Detail = fmt.Sprintf("%d attribute(s) differ from the recorded state", len(fields))
	finding.Fields = fields
	return finding, nil
}

// Field grading: security posture first, capacity second, tags last.
var (
	criticalFields = map[string]bool{
		"cidr":                true,
		"encrypted":           true,
		"deletion_protection": true,
		"publicly_accessible": true,
	}
	highFields = map[string]bool{
		"instance_type":         true,
		"count":                 true,
		"desired_capacity":      true,
		"engine_version":        true,
		"size_gb":               true,
		"backup_retention_days": true,
	}
)

func fieldSeverity(field string) Severity {
	if strings.HasPrefix(field, "tags.") {
		return SeverityLow
	}
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	if criticalFields[field] {
		return SeverityCritical
	}
	if highFields[field] {
		return SeverityHigh
	}
	return SeverityMedium
}

func worstFieldSeverity(fields []diff.Change) Severity {
	worst := SeverityLow
	for _, change := range fields {
		if s := fieldSeverity(change.Field); s.rank() > worst.rank() {
			worst = s
		}
	}
	return worst
}
