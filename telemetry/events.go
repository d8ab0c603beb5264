package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/varunnarsana/stratus/types"
)

// Span events attach per-resource outcomes to the surrounding span so
// one apply or drift trace carries its own audit trail. All helpers
// accept a nil span and do nothing.

// RecordActionEvent emits the final outcome of one executed action on
// the apply span.
func RecordActionEvent(span trace.Span, record types.ApplyRecord) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "stratus.action.finished"),
		attribute.String("resource.id", record.ResourceID),
		attribute.String("action.verb", string(record.Verb)),
		attribute.String("action.outcome", string(record.Outcome)),
		attribute.Int("action.attempts", record.Attempts),
	}

	if record.Error != "" {
		attrs = append(attrs, attribute.String("error.message", record.Error))
	}

	span.AddEvent("stratus.action.finished", trace.WithAttributes(attrs...))
}

// RecordDriftEvent emits one drift finding on the detection span.
func RecordDriftEvent(
	span trace.Span,
	resourceID string,
	kind types.Kind,
	findingType string,
	severity string,
	detail string,
) {
	if span == nil {
		return
	}

	span.AddEvent("stratus.drift.finding", trace.WithAttributes(
		attribute.String("event.type", "stratus.drift.finding"),
		attribute.String("resource.id", resourceID),
		attribute.String("resource.kind", string(kind)),
		attribute.String("finding.type", findingType),
		attribute.String("finding.severity", severity),
		attribute.String("detail", detail),
	))
}

// RecordGateEvent emits one policy verdict on the evaluation span.
// Call it for verdicts that block or gate the plan; allowed actions
// would only add noise.
func RecordGateEvent(
	span trace.Span,
	resourceID string,
	verb types.Verb,
	decision string,
	reason string,
) {
	if span == nil {
		return
	}

	span.AddEvent("stratus.policy.verdict", trace.WithAttributes(
		attribute.String("event.type", "stratus.policy.verdict"),
		attribute.String("resource.id", resourceID),
		attribute.String("action.verb", string(verb)),
		attribute.String("policy.decision", decision),
		attribute.String("policy.reason", reason),
	))
}
