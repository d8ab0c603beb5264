package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the provisioning engine's instruments
type EngineMetrics struct {
	// Counters
	PlansComputed    metric.Int64Counter
	ActionsApplied   metric.Int64Counter
	ActionRetries    metric.Int64Counter
	StateWrites      metric.Int64Counter
	VersionConflicts metric.Int64Counter
	DriftReports     metric.Int64Counter

	// Gauges
	StateVersion     metric.Int64Gauge
	ResourcesManaged metric.Int64Gauge

	// Histograms
	ActionDuration     metric.Float64Histogram
	ApplyDuration      metric.Float64Histogram
	DriftCheckDuration metric.Float64Histogram
}

// InitEngineMetrics initializes all engine instruments
func InitEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}

	if err := m.initCounters(meter); err != nil {
		return nil, err
	}
	if err := m.initGauges(meter); err != nil {
		return nil, err
	}
	if err := m.initHistograms(meter); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EngineMetrics) initCounters(meter metric.Meter) error {
	var err error

	m.PlansComputed, err = meter.Int64Counter(
		"stratus.plans.computed.total",
		metric.WithDescription("Total number of plans computed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	m.ActionsApplied, err = meter.Int64Counter(
		"stratus.actions.applied.total",
		metric.WithDescription("Total number of change actions executed, by verb and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	m.ActionRetries, err = meter.Int64Counter(
		"stratus.actions.retries.total",
		metric.WithDescription("Total number of transient-error retries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	m.StateWrites, err = meter.Int64Counter(
		"stratus.state.writes.total",
		metric.WithDescription("Total number of state snapshot writes"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	m.VersionConflicts, err = meter.Int64Counter(
		"stratus.state.version_conflicts.total",
		metric.WithDescription("Total number of rejected compare-and-swap writes"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	m.DriftReports, err = meter.Int64Counter(
		"stratus.drift.reports.total",
		metric.WithDescription("Total number of drift reports, by severity"),
		metric.WithUnit("1"),
	)
	return err
}

func (m *EngineMetrics) initGauges(meter metric.Meter) error {
	var err error

	m.StateVersion, err = meter.Int64Gauge(
		"stratus.state.version.current",
		metric.WithDescription("Current state snapshot version"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	m.ResourcesManaged, err = meter.Int64Gauge(
		"stratus.resources.managed.current",
		metric.WithDescription("Resources currently recorded in state"),
		metric.WithUnit("1"),
	)
	return err
}

func (m *EngineMetrics) initHistograms(meter metric.Meter) error {
	var err error

	m.ActionDuration, err = meter.Float64Histogram(
		"stratus.action.duration.seconds",
		metric.WithDescription("Duration of individual change actions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	m.ApplyDuration, err = meter.Float64Histogram(
		"stratus.apply.duration.seconds",
		metric.WithDescription("Duration of whole apply runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	m.DriftCheckDuration, err = meter.Float64Histogram(
		"stratus.drift.check.duration.seconds",
		metric.WithDescription("Duration of drift detection passes"),
		metric.WithUnit("s"),
	)
	return err
}

// Recording helpers. All are safe on a nil receiver so components can
// record unconditionally whether or not telemetry was initialized.

func (m *EngineMetrics) RecordPlan(ctx context.Context, workspace string) {
	if m == nil {
		return
	}
	m.PlansComputed.Add(ctx, 1, metric.WithAttributes(attribute.String("workspace", workspace)))
}

func (m *EngineMetrics) RecordAction(ctx context.Context, verb, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("verb", verb),
		attribute.String("outcome", outcome),
	)
	m.ActionsApplied.Add(ctx, 1, attrs)
	m.ActionDuration.Record(ctx, seconds, attrs)
}

func (m *EngineMetrics) RecordRetry(ctx context.Context, verb string) {
	if m == nil {
		return
	}
	m.ActionRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("verb", verb)))
}

func (m *EngineMetrics) RecordStateWrite(ctx context.Context, version int64, resources int, conflict bool) {
	if m == nil {
		return
	}
	if conflict {
		m.VersionConflicts.Add(ctx, 1)
		return
	}
	m.StateWrites.Add(ctx, 1)
	m.StateVersion.Record(ctx, version)
	m.ResourcesManaged.Record(ctx, int64(resources))
}

func (m *EngineMetrics) RecordDrift(ctx context.Context, severity string) {
	if m == nil {
		return
	}
	m.DriftReports.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

func (m *EngineMetrics) RecordApplyDuration(ctx context.Context, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ApplyDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}

func (m *EngineMetrics) RecordDriftCheckDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.DriftCheckDuration.Record(ctx, seconds)
}
