package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the daemon's operational instruments.
type Metrics struct {
	checks        metric.Int64Counter
	checkDuration metric.Float64Histogram
	findings      metric.Int64Gauge
	lastCheck     metric.Int64Gauge
}

// NewMetrics registers the daemon instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter("stratus.daemon"))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.checks, err = meter.Int64Counter(
		"stratus.daemon.drift.checks.total",
		metric.WithDescription("Scheduled drift checks, by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.checkDuration, err = meter.Float64Histogram(
		"stratus.daemon.drift.check.duration",
		metric.WithDescription("Duration of scheduled drift checks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.findings, err = meter.Int64Gauge(
		"stratus.daemon.drift.findings",
		metric.WithDescription("Findings reported by the most recent completed drift check"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return nil, err
	}

	m.lastCheck, err = meter.Int64Gauge(
		"stratus.daemon.last.check.timestamp",
		metric.WithDescription("Unix time of the most recent scheduled drift check"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCheck records one scheduled pass. Outcome is ok, drift,
// skipped or error. A nil receiver records nothing.
func (m *Metrics) RecordCheck(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.checks.Add(ctx, 1, attrs)
	m.checkDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.lastCheck.Record(ctx, time.Now().Unix())
}

// RecordFindings records the finding count of a completed pass.
// Skipped and failed passes leave the gauge at its previous value.
func (m *Metrics) RecordFindings(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.findings.Record(ctx, int64(count))
}
